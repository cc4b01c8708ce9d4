package relay

import (
	"context"
	"time"

	"inquiryrelay/internal/eventbus"
	kit "inquiryrelay/internal/transport"
	logx "inquiryrelay/pkg/logx"
)

// Config is the relay configuration. Zero durations fall back to defaults:
// 1s interval, 3 attempts, 1s initial backoff, 30s backoff cap, 10s per attempt.
type Config struct {
	Endpoint    kit.Endpoint
	Format      FormatConfig
	MinInterval time.Duration
	Policy      Policy
	// MaxPending bounds queued entries; 0 means unbounded.
	MaxPending int
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	if c.MaxPending < 0 {
		c.MaxPending = 0
	}
	c.Policy = c.Policy.withDefaults()
	return c
}

// Delivery outcomes, as published on the bus and stored in the delivery log.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

// Entry labels. Plain and raw payloads share the "raw" label downstream.
const (
	LabelInquiry = "inquiry"
	LabelRaw     = "raw"
	LabelPing    = "ping"
)

// DeliveryEvent is the bus payload for every relay lifecycle event. It never
// carries message text.
type DeliveryEvent struct {
	ID        string
	Kind      string
	Outcome   string // empty for TopicQueued
	ErrKind   Kind
	Attempts  int
	QueuedAt  time.Time
	SettledAt time.Time
}

// Health is a point-in-time view of the client.
type Health struct {
	Configured  bool      `json:"configured"`
	Online      bool      `json:"online"`
	QueueLength int       `json:"queue_length"`
	InFlight    bool      `json:"in_flight"`
	LastRequest time.Time `json:"last_request_time"`
	Submitted   uint64    `json:"submitted"`
	Sent        uint64    `json:"sent"`
	Failed      uint64    `json:"failed"`
	Stopped     bool      `json:"stopped"`
}

type Option func(*Client)

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(c *Client) { c.bus = bus } }

func WithObserver(obs Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithProbe installs a connectivity check consulted when an attempt fails and
// by Health. A false result classifies the failure as an offline network error.
func WithProbe(probe func(ctx context.Context) bool) Option {
	return func(c *Client) { c.probe = probe }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
