package app

import (
	"context"
	"time"

	"inquiryrelay/internal/eventbus"
	"inquiryrelay/internal/relay"
	"inquiryrelay/internal/storage"
	logx "inquiryrelay/pkg/logx"
)

// recordDeliveries appends a delivery-log row for every settled or rejected
// message until ctx is done or the bus subscription closes.
func recordDeliveries(ctx context.Context, bus eventbus.Bus, store storage.Store, log logx.Logger) {
	events, unsub := bus.Subscribe(256)
	defer unsub()
	recordFrom(ctx, events, store, log)
}

// recordFrom consumes events until ctx is done, then writes whatever is still
// buffered so settlements published just before shutdown are not lost.
func recordFrom(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	write := func(e eventbus.Event) {
		rec, ok := deliveryRecord(e)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := store.AppendDelivery(wctx, rec); err != nil {
			log.Warn("delivery log append failed", logx.String("id", rec.ID), logx.Err(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		}
	}
}

// deliveryRecord converts terminal relay events; queued events are skipped.
func deliveryRecord(e eventbus.Event) (storage.DeliveryRecord, bool) {
	switch e.Topic {
	case eventbus.TopicSent, eventbus.TopicFailed, eventbus.TopicCanceled, eventbus.TopicRejected:
	default:
		return storage.DeliveryRecord{}, false
	}
	ev, ok := e.Data.(relay.DeliveryEvent)
	if !ok {
		return storage.DeliveryRecord{}, false
	}
	rec := storage.DeliveryRecord{
		ID:        ev.ID,
		Kind:      ev.Kind,
		Outcome:   ev.Outcome,
		ErrKind:   string(ev.ErrKind),
		Attempts:  ev.Attempts,
		QueuedAt:  ev.QueuedAt,
		SettledAt: ev.SettledAt,
	}
	if !ev.QueuedAt.IsZero() && ev.SettledAt.After(ev.QueuedAt) {
		rec.DurationMS = ev.SettledAt.Sub(ev.QueuedAt).Milliseconds()
	}
	return rec, true
}

// logEvents mirrors relay events to the debug log.
func logEvents(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	events, unsub := bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, _ := e.Data.(relay.DeliveryEvent)
			log.Debug("event",
				logx.String("topic", e.Topic),
				logx.String("id", ev.ID),
				logx.String("kind", ev.Kind),
				logx.String("err_kind", string(ev.ErrKind)),
				logx.Time("time", e.Time),
			)
		}
	}
}
