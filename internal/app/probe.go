package app

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// newProbe returns a connectivity check that sends a HEAD request to url.
// Any HTTP response, whatever its status, counts as online.
func newProbe(url string, hc *http.Client) func(ctx context.Context) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if hc == nil {
		hc = &http.Client{Timeout: 3 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := hc.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}
