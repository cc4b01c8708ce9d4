// Package telegram is a minimal Bot API client for sendMessage.
//
// It performs exactly one HTTP request per call and never retries; retry
// policy lives in the relay. Failed calls return *APIError (HTTP or API level
// failure) or a transport error with the bot token redacted.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kit "inquiryrelay/internal/transport"
)

const DefaultBaseURL = "https://api.telegram.org"

// maxBody caps how much of a response body is read.
const maxBody = 64 << 10

type Config struct {
	BaseURL string
	// Timeout bounds the whole HTTP exchange when the caller's context has no
	// deadline. Zero disables it.
	Timeout time.Duration
}

type Client struct {
	base string
	http *http.Client
}

func New(cfg Config, hc *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{base: base, http: hc}
}

var _ kit.Sender = (*Client)(nil)

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter      int   `json:"retry_after"`
		MigrateToChatID int64 `json:"migrate_to_chat_id"`
	} `json:"parameters"`
}

// SendMessage posts msg to <base>/bot<token>/sendMessage.
func (c *Client) SendMessage(ctx context.Context, token string, msg kit.OutgoingMessage) error {
	return c.call(ctx, token, "sendMessage", sendMessageRequest{
		ChatID:                msg.ChatID,
		Text:                  msg.Text,
		ParseMode:             msg.ParseMode,
		DisableWebPagePreview: msg.DisablePreview,
	})
}

// GetMe verifies the token without sending anything.
func (c *Client) GetMe(ctx context.Context, token string) error {
	return c.call(ctx, token, "getMe", struct{}{})
}

func (c *Client) call(ctx context.Context, token, method string, payload any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("telegram: empty token")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: encode %s: %w", method, err)
	}

	endpoint := c.base + "/bot" + token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return redact(err, token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return redact(err, token)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return redact(err, token)
	}

	var out apiResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 && decodeErr == nil && out.OK {
		return nil
	}

	apiErr := &APIError{
		Method:      method,
		HTTPStatus:  resp.StatusCode,
		ErrorCode:   out.ErrorCode,
		Description: strings.TrimSpace(out.Description),
	}
	if out.Parameters != nil {
		apiErr.RetryAfterSecs = out.Parameters.RetryAfter
	}
	if decodeErr != nil && apiErr.Description == "" {
		apiErr.Description = "unreadable response body"
	}
	return apiErr
}

// APIError is a failed Bot API call. HTTPStatus is the transport status; a 2xx
// response with "ok": false keeps its 2xx status.
type APIError struct {
	Method         string
	HTTPStatus     int
	ErrorCode      int
	Description    string
	RetryAfterSecs int
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram %s: http %d", e.Method, e.HTTPStatus)
	if e.ErrorCode != 0 && e.ErrorCode != e.HTTPStatus {
		msg += fmt.Sprintf(" (error_code %d)", e.ErrorCode)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// StatusCode is the HTTP status used for classification. An "ok": false body
// on a 2xx response is reported as its error_code when present, otherwise 0
// so that it falls into the generic bucket.
func (e *APIError) StatusCode() int {
	if e.HTTPStatus >= 200 && e.HTTPStatus <= 299 {
		if e.ErrorCode >= 400 {
			return e.ErrorCode
		}
		return 0
	}
	return e.HTTPStatus
}

func (e *APIError) RetryAfter() time.Duration {
	return time.Duration(e.RetryAfterSecs) * time.Second
}

var (
	_ kit.StatusCoder     = (*APIError)(nil)
	_ kit.RetryAfterError = (*APIError)(nil)
)

// redact removes the token from URL errors produced by net/http.
func redact(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, token, "<redacted>")
		return ue
	}
	if strings.Contains(err.Error(), token) {
		return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
	}
	return err
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
