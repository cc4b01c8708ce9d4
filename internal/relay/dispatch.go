package relay

import (
	"context"
	"time"

	kit "inquiryrelay/internal/transport"
	logx "inquiryrelay/pkg/logx"
)

// Policy is the per-send retry and timeout policy.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 10 * time.Second
	}
	return p
}

// Backoff returns the delay before attempt+1: InitialBackoff * 2^(attempt-1),
// capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Observer receives dispatch telemetry. Implementations must be fast and
// safe for concurrent use.
type Observer interface {
	Attempt(attempt int, took time.Duration, err *Error)
	Settled(kind, outcome string, errKind Kind, attempts int, took time.Duration)
	QueueDepth(n int)
}

type nopObserver struct{}

func (nopObserver) Attempt(int, time.Duration, *Error)                {}
func (nopObserver) Settled(string, string, Kind, int, time.Duration) {}
func (nopObserver) QueueDepth(int)                                    {}

// Dispatcher performs one logical send with rate limiting and bounded retries.
type Dispatcher struct {
	sender  kit.Sender
	limiter *Limiter
	online  func(ctx context.Context) bool
	log     logx.Logger
	obs     Observer
}

func NewDispatcher(sender kit.Sender, limiter *Limiter, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, limiter: limiter, log: log, obs: nopObserver{}}
}

// Send delivers msg through ep, retrying retryable failures. It returns the
// number of HTTP attempts made. Caller cancellation is returned as the
// context error and never retried.
func (d *Dispatcher) Send(ctx context.Context, ep kit.Endpoint, msg kit.OutgoingMessage, pol Policy) (int, error) {
	pol = pol.withDefaults()
	msg.ChatID = ep.ChatID

	for attempt := 1; ; attempt++ {
		if err := d.limiter.Acquire(ctx); err != nil {
			return attempt - 1, err
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, pol.RequestTimeout)
		err := d.sender.SendMessage(callCtx, ep.Token, msg)
		cancel()
		took := time.Since(start)

		if err == nil {
			d.obs.Attempt(attempt, took, nil)
			d.log.Debug("dispatch ok", logx.Int("attempt", attempt), logx.Duration("took", took))
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		cerr := Classify(err, d.isOnline(ctx))
		d.obs.Attempt(attempt, took, cerr)
		d.log.Debug("dispatch failed",
			logx.Int("attempt", attempt),
			logx.Int("max", pol.MaxAttempts),
			logx.String("kind", string(cerr.Kind)),
			logx.String("detail", cerr.Detail()),
		)

		if !cerr.Retryable() || attempt >= pol.MaxAttempts {
			out := *cerr
			out.Attempts = attempt
			return attempt, &out
		}

		delay := pol.Backoff(attempt)
		if cerr.RetryAfter > delay {
			delay = min(cerr.RetryAfter, pol.MaxBackoff)
		}
		d.log.Info("retrying dispatch", logx.Int("next_attempt", attempt+1), logx.Duration("delay", delay), logx.String("kind", string(cerr.Kind)))
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
}

func (d *Dispatcher) isOnline(ctx context.Context) bool {
	if d.online == nil {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.online(pctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
