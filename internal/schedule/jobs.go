package schedule

import (
	"context"
	"time"

	logx "inquiryrelay/pkg/logx"
)

const (
	JobHeartbeat = "heartbeat"
	JobPrune     = "prune"
)

// Heartbeat sends a connection test through the relay queue.
func Heartbeat(spec string, ping func(ctx context.Context) error) Job {
	return Job{
		Name:    JobHeartbeat,
		Spec:    spec,
		Timeout: 2 * time.Minute,
		Run:     ping,
	}
}

// Prune deletes delivery records older than retention.
func Prune(spec string, retention time.Duration, prune func(ctx context.Context, before time.Time) (int64, error), log logx.Logger) Job {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return Job{
		Name:    JobPrune,
		Spec:    spec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-retention)
			n, err := prune(ctx, cutoff)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("delivery log pruned", logx.Int64("removed", n), logx.Time("before", cutoff))
			}
			return nil
		},
	}
}
