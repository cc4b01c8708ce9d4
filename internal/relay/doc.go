// Package relay delivers website inquiries to a Telegram chat.
//
// A Client owns the whole outbound path:
//
//   - a Formatter that renders a Payload into Markdown or HTML, escaping
//     user-controlled fields and refusing oversized output;
//   - a FIFO queue drained by a single goroutine, so at most one request is
//     in flight and messages leave in submission order;
//   - a Limiter that keeps consecutive attempts at least MinInterval apart;
//   - a Dispatcher that retries retryable failures with exponential backoff,
//     never exceeding Policy.MaxAttempts requests per message.
//
// Failures are reported as *Error values whose Kind follows a fixed table
// (see Classify). Error() is safe to show to end users; Detail() is for logs.
//
// Missing credentials, invalid inquiries and oversized messages are refused
// by Enqueue/Submit before anything is queued or sent.
package relay
