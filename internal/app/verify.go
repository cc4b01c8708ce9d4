package app

import (
	"context"
	"time"

	"inquiryrelay/internal/relay"
	"inquiryrelay/internal/telegram"
	logx "inquiryrelay/pkg/logx"
)

// verifyToken calls getMe once so a bad token shows up in the log at startup
// rather than on the first inquiry. It never blocks startup.
func verifyToken(ctx context.Context, tg *telegram.Client, token string, log logx.Logger) error {
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := tg.GetMe(vctx, token); err != nil {
		ce := relay.Classify(err, true)
		log.Warn("telegram token check failed", logx.String("kind", string(ce.Kind)), logx.String("detail", ce.Detail()))
		return ce
	}
	log.Info("telegram token verified")
	return nil
}
