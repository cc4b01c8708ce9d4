package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "inquiryrelay/internal/transport"
)

func TestSendMessageRequestShape(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
		gotCT   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"}, srv.Client())
	err := c.SendMessage(context.Background(), "123:abc", kit.OutgoingMessage{
		ChatID:         "-100200",
		Text:           "*hi*",
		ParseMode:      "Markdown",
		DisablePreview: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "-100200", gotBody["chat_id"])
	assert.Equal(t, "*hi*", gotBody["text"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
	assert.Equal(t, true, gotBody["disable_web_page_preview"])
}

func TestAPIErrors(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantRetry  time.Duration
		wantDesc   string
	}{
		{"unauthorized", 401, `{"ok":false,"error_code":401,"description":"Unauthorized"}`, 401, 0, "Unauthorized"},
		{"bad chat", 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, 400, 0, "Bad Request: chat not found"},
		{"flood", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`, 429, 7 * time.Second, "Too Many Requests"},
		{"gateway", 502, `<html>bad gateway</html>`, 502, 0, "unreadable response body"},
		{"ok false on 200", 200, `{"ok":false}`, 0, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL}, srv.Client())
			err := c.SendMessage(context.Background(), "t", kit.OutgoingMessage{ChatID: "1", Text: "x"})
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.wantStatus, apiErr.StatusCode())
			assert.Equal(t, tc.wantRetry, apiErr.RetryAfter())
			assert.Equal(t, tc.wantDesc, apiErr.Description)
		})
	}
}

func TestTransportErrorRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base}, nil)
	err := c.SendMessage(context.Background(), "999:SECRET", kit.OutgoingMessage{ChatID: "1", Text: "x"})
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "SECRET"), err.Error())
	assert.Contains(t, err.Error(), "<redacted>")
}

func TestContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(Config{BaseURL: srv.URL}, srv.Client())
	err := c.SendMessage(ctx, "t", kit.OutgoingMessage{ChatID: "1", Text: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
}

func TestEmptyToken(t *testing.T) {
	c := New(Config{}, nil)
	err := c.SendMessage(context.Background(), "  ", kit.OutgoingMessage{ChatID: "1", Text: "x"})
	require.Error(t, err)
}
