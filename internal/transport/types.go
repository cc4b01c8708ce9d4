package transport

import (
	"context"
	"time"
)

// OutgoingMessage is one sendMessage call. Text must already be valid markup
// for ParseMode; senders never rewrite it.
type OutgoingMessage struct {
	ChatID         string
	Text           string
	ParseMode      string
	DisablePreview bool
}

// Endpoint identifies the bot and destination chat a message is sent through.
type Endpoint struct {
	Token  string
	ChatID string
}

// Configured reports whether both the token and the destination are present.
func (e Endpoint) Configured() bool { return e.Token != "" && e.ChatID != "" }

// Sender delivers a single message. Implementations must not retry on their
// own; retry policy belongs to the caller.
type Sender interface {
	SendMessage(ctx context.Context, token string, msg OutgoingMessage) error
}

// StatusCoder is implemented by errors that carry the HTTP status code of a
// failed request.
type StatusCoder interface {
	error
	StatusCode() int
}

// RetryAfterError is implemented by errors that carry a provider-suggested
// delay before the next attempt (e.g. Telegram's parameters.retry_after).
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}
