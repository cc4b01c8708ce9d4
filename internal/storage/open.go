package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "inquiryrelay/pkg/logx"
)

// Store is the delivery log API.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	// CountOutcomes counts records settled at or after since, by outcome.
	CountOutcomes(ctx context.Context, since time.Time) (map[string]int, error)
	// PruneBefore deletes records settled before t and reports how many.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
