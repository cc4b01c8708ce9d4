package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is the outcome of one message. Keep it compact and
// schema-stable.
type DeliveryRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	ErrKind    string    `json:"err_kind,omitempty"`
	Attempts   int       `json:"attempts"`
	QueuedAt   time.Time `json:"queued_at"`
	SettledAt  time.Time `json:"settled_at"`
	DurationMS int64     `json:"duration_ms"`
}
