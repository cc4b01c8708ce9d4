package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	kit "inquiryrelay/internal/transport"
)

var (
	ErrStopped   = errors.New("relay stopped")
	ErrQueueFull = errors.New("relay queue full")
)

// Kind is the failure taxonomy. The string values are stable and exposed to
// HTTP callers.
type Kind string

const (
	KindNetwork            Kind = "NETWORK_ERROR"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindInvalidDestination Kind = "INVALID_DESTINATION"
	KindMessageTooLong     Kind = "MESSAGE_TOO_LONG"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindServerUnavailable  Kind = "SERVER_UNAVAILABLE"
	KindUnknown            Kind = "UNKNOWN_ERROR"
	KindConfiguration      Kind = "CONFIGURATION_ERROR"
	KindInvalidInput       Kind = "INVALID_INPUT"
)

// Retryable reports whether the dispatcher may try again after this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimited, KindServerUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

var kindMessages = map[Kind]string{
	KindNetwork:            "Network error occurred. Please check your connection and try again.",
	KindInvalidCredentials: "Authentication failed. Please contact support.",
	KindInvalidDestination: "Invalid configuration. Please contact support.",
	KindMessageTooLong:     "Message is too long. Please shorten your message and try again.",
	KindRateLimited:        "Too many requests. Please wait a moment and try again.",
	KindServerUnavailable:  "Server temporarily unavailable. Please try again in a few moments.",
	KindUnknown:            "Unexpected error. Please try again.",
	KindConfiguration:      "Service configuration error. Please contact support.",
	KindInvalidInput:       "Some required fields are missing or invalid.",
}

// Network failure reasons. They refine KindNetwork for logs and metrics but
// never change the retry decision.
const (
	ReasonOffline = "offline"
	ReasonTimeout = "timeout"
	ReasonDNS     = "dns"
	ReasonTLS     = "tls"
	ReasonConnect = "connect"
)

// Error is a classified relay failure. Error() returns a human-readable
// message suitable for end users; Detail() is meant for logs.
type Error struct {
	Kind       Kind
	Status     int // HTTP status, 0 if none
	Reason     string
	Attempts   int
	RetryAfter time.Duration
	Fields     []string // invalid input fields
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindNetwork && e.Reason == ReasonOffline:
		return "No internet connection. Please check your network and try again."
	case e.Kind == KindUnknown && e.Status != 0:
		return fmt.Sprintf("Request failed with status %d. Please try again.", e.Status)
	case e.Kind == KindInvalidInput && len(e.Fields) > 0:
		return "Some required fields are missing or invalid: " + strings.Join(e.Fields, ", ") + "."
	}
	if m, ok := kindMessages[e.Kind]; ok {
		return m
	}
	return kindMessages[KindUnknown]
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this error allows another attempt.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// Detail renders the error for logs, including the underlying cause.
func (e *Error) Detail() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " http=%d", e.Status)
	}
	if e.Reason != "" {
		b.WriteString(" reason=" + e.Reason)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// KindOf returns the classification of err, or "" when err is not a relay error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// Classify maps a failed send to the failure taxonomy.
//
// online is the result of the connectivity probe; when false every failure is
// reported as an offline network error, matching what the user can act on.
func Classify(err error, online bool) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	if !online {
		return &Error{Kind: KindNetwork, Reason: ReasonOffline, Err: err}
	}

	var sc kit.StatusCoder
	if errors.As(err, &sc) {
		e := &Error{Kind: kindForStatus(sc.StatusCode()), Status: sc.StatusCode(), Err: err}
		var ra kit.RetryAfterError
		if errors.As(err, &ra) {
			e.RetryAfter = ra.RetryAfter()
		}
		return e
	}

	if reason := networkReason(err); reason != "" {
		return &Error{Kind: KindNetwork, Reason: reason, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindInvalidCredentials
	case status == http.StatusBadRequest:
		return KindInvalidDestination
	case status == http.StatusRequestEntityTooLarge:
		return KindMessageTooLong
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500 && status <= 599:
		return KindServerUnavailable
	default:
		return KindUnknown
	}
}

// networkReason returns "" when err does not look like a transport failure.
func networkReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNS
	}
	var (
		certErr      *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &authorityErr) || errors.As(err, &hostErr) {
		return ReasonTLS
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ReasonConnect
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnect
	}
	return ""
}
