package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"inquiryrelay/internal/eventbus"
	rtsup "inquiryrelay/internal/runtime/supervisor"
	kit "inquiryrelay/internal/transport"
	logx "inquiryrelay/pkg/logx"
)

// Client turns payloads into Telegram messages and delivers them one at a
// time, in submission order, through a rate limited dispatcher.
//
// It is safe for concurrent use. Create one per process and share it.
type Client struct {
	mu sync.Mutex

	cfg       Config
	formatter *Formatter
	validate  *validator.Validate
	limiter   *Limiter
	disp      *Dispatcher

	log   logx.Logger
	bus   eventbus.Bus
	obs   Observer
	probe func(ctx context.Context) bool
	now   func() time.Time

	sup      *rtsup.Supervisor
	queue    []*entry
	draining bool
	inflight bool
	closed   bool

	submitted atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
}

type entry struct {
	id       string
	label    string
	msg      kit.OutgoingMessage
	ctx      context.Context
	queuedAt time.Time

	once sync.Once
	done chan struct{}
	err  error
}

func (e *entry) settle(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

// Pending is the handle for one queued message.
type Pending struct {
	e *entry
}

func (p *Pending) ID() string { return p.e.id }

// Done is closed once the message is settled.
func (p *Pending) Done() <-chan struct{} { return p.e.done }

// Wait blocks until the message is settled or ctx is done. Giving up on the
// wait does not remove the entry from the queue.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.e.done:
		return p.e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func New(cfg Config, sender kit.Sender, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		validate: NewValidator(),
		obs:      nopObserver{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.formatter = NewFormatter(cfg.Format)
	c.limiter = NewLimiter(cfg.MinInterval)
	c.disp = NewDispatcher(sender, c.limiter, c.log)
	c.disp.obs = c.obs
	c.disp.online = c.probe
	c.sup = rtsup.NewSupervisor(context.Background(),
		rtsup.WithLogger(c.log),
		rtsup.WithCancelOnError(false),
	)
	return c
}

// Apply swaps in new settings. Queued messages keep the text they were
// formatted with; the endpoint and policy are read when each one is dispatched.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.formatter = NewFormatter(cfg.Format)
	c.mu.Unlock()
	c.limiter.SetInterval(cfg.MinInterval)
}

// Enqueue checks, formats and queues p, returning as soon as it is queued.
//
// Configuration, validation and size failures are returned here and nothing
// is queued. ctx scopes the delivery: if it is done before the message is
// sent, the message is dropped with ctx's error.
func (c *Client) Enqueue(ctx context.Context, p Payload) (*Pending, error) {
	label := LabelInquiry
	if p.Kind() != PayloadInquiry {
		label = LabelRaw
	}
	return c.enqueue(ctx, p, label)
}

// Submit queues p and waits for it to be delivered or to fail.
func (c *Client) Submit(ctx context.Context, p Payload) error {
	pend, err := c.Enqueue(ctx, p)
	if err != nil {
		return err
	}
	return pend.Wait(ctx)
}

// Ping sends a connection test message through the queue.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	text := c.formatter.ConnectionTest(c.now())
	c.mu.Unlock()
	pend, err := c.enqueue(ctx, Raw(text), LabelPing)
	if err != nil {
		return err
	}
	return pend.Wait(ctx)
}

func (c *Client) enqueue(ctx context.Context, p Payload, label string) (*Pending, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := c.now()
	id := uuid.NewString()

	c.mu.Lock()
	cfg := c.cfg
	f := c.formatter
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, ErrStopped
	}
	if !cfg.Endpoint.Configured() {
		return nil, c.reject(id, label, now, &Error{Kind: KindConfiguration})
	}
	if rec, ok := p.Inquiry(); ok {
		clean, err := ValidateInquiry(c.validate, rec)
		if err != nil {
			return nil, c.reject(id, label, now, err)
		}
		p = Structured(clean)
	}
	text, err := f.Format(p, now)
	if err != nil {
		return nil, c.reject(id, label, now, err)
	}

	e := &entry{
		id:    id,
		label: label,
		msg: kit.OutgoingMessage{
			Text:           text,
			ParseMode:      string(f.Mode()),
			DisablePreview: true,
		},
		ctx:      ctx,
		queuedAt: now,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	if c.cfg.MaxPending > 0 && len(c.queue) >= c.cfg.MaxPending {
		c.mu.Unlock()
		c.log.Warn("relay queue full", logx.String("id", id), logx.Int("max_pending", c.cfg.MaxPending))
		return nil, ErrQueueFull
	}
	c.queue = append(c.queue, e)
	depth := len(c.queue)
	c.submitted.Add(1)
	// Published under the lock so it always precedes the settlement event.
	c.publish(eventbus.TopicQueued, DeliveryEvent{ID: id, Kind: label, QueuedAt: now})
	if !c.draining {
		c.draining = true
		c.sup.Go0("relay.drain", c.drain)
	}
	c.mu.Unlock()

	c.obs.QueueDepth(depth)
	c.log.Debug("message queued", logx.String("id", id), logx.String("kind", label), logx.Int("depth", depth))
	return &Pending{e: e}, nil
}

func (c *Client) reject(id, label string, at time.Time, err error) error {
	kind := KindOf(err)
	c.obs.Settled(label, OutcomeRejected, kind, 0, 0)
	c.publish(eventbus.TopicRejected, DeliveryEvent{
		ID: id, Kind: label, Outcome: OutcomeRejected, ErrKind: kind, QueuedAt: at, SettledAt: at,
	})
	c.log.Info("message rejected", logx.String("id", id), logx.String("kind", label), logx.String("err_kind", string(kind)))
	return err
}

// drain runs while the queue is non-empty. It is started by enqueue when the
// queue leaves the idle state and exits as soon as the queue is empty.
func (c *Client) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		e := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.inflight = true
		ep := c.cfg.Endpoint
		pol := c.cfg.Policy
		depth := len(c.queue)
		c.mu.Unlock()

		c.obs.QueueDepth(depth)
		attempts, err := c.safeProcess(ctx, e, ep, pol)

		c.mu.Lock()
		c.inflight = false
		c.mu.Unlock()
		c.finish(e, attempts, err)
	}
}

// safeProcess settles a panicking send as UNKNOWN_ERROR so the drain loop
// keeps going and the entry still settles.
func (c *Client) safeProcess(base context.Context, e *entry, ep kit.Endpoint, pol Policy) (attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("send panicked", logx.String("id", e.id), logx.Any("panic", r))
			attempts = max(attempts, 1)
			err = &Error{Kind: KindUnknown, Attempts: attempts, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.process(base, e, ep, pol)
}

func (c *Client) process(base context.Context, e *entry, ep kit.Endpoint, pol Policy) (int, error) {
	// base is checked directly; the AfterFunc below cancels asynchronously.
	if base.Err() != nil {
		return 0, ErrStopped
	}
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	stop := context.AfterFunc(base, cancel)
	defer stop()

	if ctx.Err() != nil {
		return 0, c.abortErr(e)
	}
	if !ep.Configured() {
		return 0, &Error{Kind: KindConfiguration}
	}
	attempts, err := c.disp.Send(ctx, ep, e.msg, pol)
	if err != nil && ctx.Err() != nil {
		return attempts, c.abortErr(e)
	}
	return attempts, err
}

// abortErr reports why an entry stopped without a delivery verdict.
func (c *Client) abortErr(e *entry) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	return ErrStopped
}

func (c *Client) finish(e *entry, attempts int, err error) {
	at := time.Now()
	took := at.Sub(e.queuedAt)
	ev := DeliveryEvent{ID: e.id, Kind: e.label, Attempts: attempts, QueuedAt: e.queuedAt, SettledAt: at}
	topic := eventbus.TopicSent

	switch {
	case err == nil:
		ev.Outcome = OutcomeSent
		c.sent.Add(1)
		c.log.Info("message delivered", logx.String("id", e.id), logx.String("kind", e.label), logx.Int("attempts", attempts), logx.Duration("took", took))
	case KindOf(err) == "":
		ev.Outcome = OutcomeCanceled
		topic = eventbus.TopicCanceled
		c.log.Info("message abandoned", logx.String("id", e.id), logx.String("kind", e.label), logx.Err(err))
	default:
		ev.Outcome = OutcomeFailed
		ev.ErrKind = KindOf(err)
		topic = eventbus.TopicFailed
		c.failed.Add(1)
		detail := err.Error()
		var re *Error
		if errors.As(err, &re) {
			detail = re.Detail()
		}
		c.log.Warn("message delivery failed", logx.String("id", e.id), logx.String("kind", e.label), logx.Int("attempts", attempts), logx.String("detail", detail))
	}

	c.obs.Settled(e.label, ev.Outcome, ev.ErrKind, attempts, took)
	c.publish(topic, ev)
	e.settle(err)
}

func (c *Client) publish(topic string, ev DeliveryEvent) {
	if c.bus == nil {
		return
	}
	at := ev.SettledAt
	if at.IsZero() {
		at = ev.QueuedAt
	}
	c.bus.Publish(eventbus.Event{Topic: topic, Time: at, Data: ev})
}

// Health reports the client state. ctx bounds the connectivity probe.
func (c *Client) Health(ctx context.Context) Health {
	c.mu.Lock()
	h := Health{
		Configured:  c.cfg.Endpoint.Configured(),
		QueueLength: len(c.queue),
		InFlight:    c.inflight,
		Stopped:     c.closed,
	}
	c.mu.Unlock()
	h.Online = c.disp.isOnline(ctx)
	h.LastRequest = c.limiter.Last()
	h.Submitted = c.submitted.Load()
	h.Sent = c.sent.Load()
	h.Failed = c.failed.Load()
	return h
}

// Close stops accepting messages and waits for the queue to drain. When ctx
// expires first, in-flight and queued messages are abandoned with ErrStopped.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.sup.Wait(ctx)
	if err == nil || ctx.Err() == nil {
		return err
	}
	c.sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.sup.Wait(wctx)
	return err
}
