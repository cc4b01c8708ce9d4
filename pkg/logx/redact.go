package logx

import (
	"io"
	"regexp"
)

// botToken matches Telegram bot tokens ("123456789:AA...") whether bare or
// inside a Bot API URL path.
var botToken = regexp.MustCompile(`\d{5,}:[A-Za-z0-9_-]{30,}`)

const redacted = "<redacted>"

// Redact masks every bot token in s.
func Redact(s string) string {
	return botToken.ReplaceAllString(s, redacted)
}

// redactWriter masks bot tokens in each log line before it reaches a sink.
type redactWriter struct{ w io.Writer }

func (r redactWriter) Write(p []byte) (int, error) {
	if !botToken.Match(p) {
		return r.w.Write(p)
	}
	if _, err := r.w.Write(botToken.ReplaceAll(p, []byte(redacted))); err != nil {
		return 0, err
	}
	// zerolog treats a short count as an error.
	return len(p), nil
}

