package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "inquiryrelay/pkg/logx"
)

func openBoth(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]func() Store{
		"file": func() Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "relay.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func() Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "relay.sqlite"), BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func record(id, outcome string, settled time.Time) DeliveryRecord {
	return DeliveryRecord{
		ID:         id,
		Kind:       "inquiry",
		Outcome:    outcome,
		Attempts:   1,
		QueuedAt:   settled.Add(-time.Second),
		SettledAt:  settled,
		DurationMS: 1000,
	}
}

func TestStoreDrivers(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for name, open := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()

			require.NoError(t, st.AppendDelivery(ctx, record("a", "sent", base)))
			failed := record("b", "failed", base.Add(time.Hour))
			failed.ErrKind = "SERVER_UNAVAILABLE"
			failed.Attempts = 3
			require.NoError(t, st.AppendDelivery(ctx, failed))
			require.NoError(t, st.AppendDelivery(ctx, record("c", "sent", base.Add(2*time.Hour))))

			recent, err := st.RecentDeliveries(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "c", recent[0].ID)
			assert.Equal(t, "b", recent[1].ID)
			assert.Equal(t, "SERVER_UNAVAILABLE", recent[1].ErrKind)
			assert.Equal(t, 3, recent[1].Attempts)
			assert.True(t, recent[1].SettledAt.Equal(base.Add(time.Hour)))

			counts, err := st.CountOutcomes(ctx, base.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"sent": 1, "failed": 1}, counts)

			n, err := st.PruneBefore(ctx, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			require.NoError(t, st.AppendDelivery(ctx, record("d", "canceled", base.Add(3*time.Hour))))
			require.NoError(t, st.Close())

			// Reopen and confirm the pruned state survived.
			st = open()
			defer st.Close()
			all, err := st.RecentDeliveries(ctx, 0)
			require.NoError(t, err)
			ids := make([]string, 0, len(all))
			for _, r := range all {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, []string{"d", "c"}, ids)
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendDelivery(context.Background(), record("a", "sent", time.Now())), ErrClosed)
}
