package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type retryAfterErr struct {
	statusErr
	after time.Duration
}

func (e retryAfterErr) RetryAfter() time.Duration { return e.after }

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		online    bool
		kind      Kind
		reason    string
		retryable bool
	}{
		{"offline", errors.New("dial"), false, KindNetwork, ReasonOffline, true},
		{"401", statusErr(401), true, KindInvalidCredentials, "", false},
		{"400", statusErr(400), true, KindInvalidDestination, "", false},
		{"413", statusErr(413), true, KindMessageTooLong, "", false},
		{"429", statusErr(429), true, KindRateLimited, "", true},
		{"500", statusErr(500), true, KindServerUnavailable, "", true},
		{"503 wrapped", fmt.Errorf("send: %w", statusErr(503)), true, KindServerUnavailable, "", true},
		{"404", statusErr(404), true, KindUnknown, "", true},
		{"ok false", statusErr(0), true, KindUnknown, "", true},
		{"timeout", context.DeadlineExceeded, true, KindNetwork, ReasonTimeout, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.telegram.org"}, true, KindNetwork, ReasonDNS, true},
		{"connect", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true, KindNetwork, ReasonConnect, true},
		{"eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true, KindNetwork, ReasonConnect, true},
		{"other", errors.New("weird"), true, KindUnknown, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err, tc.online)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.reason, got.Reason)
			assert.Equal(t, tc.retryable, got.Retryable())
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassifyKeepsRelayErrors(t *testing.T) {
	in := &Error{Kind: KindConfiguration}
	assert.Same(t, in, Classify(in, false))
	assert.Nil(t, Classify(nil, true))
}

func TestClassifyRetryAfter(t *testing.T) {
	got := Classify(retryAfterErr{statusErr: 429, after: 3 * time.Second}, true)
	assert.Equal(t, KindRateLimited, got.Kind)
	assert.Equal(t, 3*time.Second, got.RetryAfter)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "Request failed with status 404. Please try again.", (&Error{Kind: KindUnknown, Status: 404}).Error())
	assert.Equal(t, "Unexpected error. Please try again.", (&Error{Kind: KindUnknown}).Error())
	assert.Equal(t, "Service configuration error. Please contact support.", (&Error{Kind: KindConfiguration}).Error())
	assert.Equal(t, "Some required fields are missing or invalid: name, email.",
		(&Error{Kind: KindInvalidInput, Fields: []string{"name", "email"}}).Error())
	assert.Equal(t, "Too many requests. Please wait a moment and try again.", (&Error{Kind: KindRateLimited}).Error())
	assert.Equal(t, "SERVER_UNAVAILABLE http=502 attempts=3: bad gateway",
		(&Error{Kind: KindServerUnavailable, Status: 502, Attempts: 3, Err: errors.New("bad gateway")}).Detail())
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(60))

	d := Policy{}.withDefaults()
	assert.Equal(t, 3, d.MaxAttempts)
	assert.Equal(t, time.Second, d.InitialBackoff)
	assert.Equal(t, 10*time.Second, d.RequestTimeout)
}

func TestLimiterSpacing(t *testing.T) {
	l := NewLimiter(40 * time.Millisecond)
	assert.True(t, l.Last().IsZero())

	ctx := context.Background()
	assert.NoError(t, l.Acquire(ctx))
	first := l.Last()
	assert.NoError(t, l.Acquire(ctx))
	assert.GreaterOrEqual(t, l.Last().Sub(first), 30*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Acquire(cctx), context.Canceled)
}
