package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquiryrelay/internal/config"
	"inquiryrelay/internal/eventbus"
	"inquiryrelay/internal/relay"
	"inquiryrelay/internal/storage"
	"inquiryrelay/internal/telegram"
	kit "inquiryrelay/internal/transport"
	logx "inquiryrelay/pkg/logx"
	"inquiryrelay/pkg/tgtext"
)

func TestMapRelayConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.Token = " 1:abc "
	cfg.Telegram.ChatID = "-100"
	cfg.Relay.MinInterval = "2s"
	cfg.Relay.MaxAttempts = 4
	cfg.Relay.RequestTimeout = "5s"
	cfg.Format.ParseMode = "html"
	cfg.Format.Timezone = "Europe/Paris"

	rc, err := mapRelayConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, kit.Endpoint{Token: "1:abc", ChatID: "-100"}, rc.Endpoint)
	assert.Equal(t, 2*time.Second, rc.MinInterval)
	assert.Equal(t, 4, rc.Policy.MaxAttempts)
	assert.Equal(t, 5*time.Second, rc.Policy.RequestTimeout)
	assert.Equal(t, tgtext.ModeHTML, rc.Format.Mode)
	assert.Equal(t, "Europe/Paris", rc.Format.Location.String())

	def, err := mapRelayConfig(config.Default())
	require.NoError(t, err)
	assert.Equal(t, time.Second, def.MinInterval)
	assert.Equal(t, config.DefaultTimezone, def.Format.Location.String())

	cfg.Relay.MaxBackoff = "later"
	_, err = mapRelayConfig(cfg)
	assert.ErrorContains(t, err, "relay.max_backoff")
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: 3 * time.Second}, sc)

	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	_, _, err = mapStorageConfig(cfg)
	assert.Error(t, err)

	cfg.Storage = &config.StorageConfig{Driver: "redis"}
	_, _, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapScheduleConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.Heartbeat = " @daily "
	sc, err := mapScheduleConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "@daily", sc.Heartbeat)
	assert.Equal(t, 30*24*time.Hour, sc.Retention)
}

func TestDeliveryRecord(t *testing.T) {
	q := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	ev := relay.DeliveryEvent{
		ID: "x", Kind: relay.LabelInquiry, Outcome: relay.OutcomeFailed,
		ErrKind: relay.KindServerUnavailable, Attempts: 3,
		QueuedAt: q, SettledAt: q.Add(1500 * time.Millisecond),
	}
	rec, ok := deliveryRecord(eventbus.Event{Topic: eventbus.TopicFailed, Data: ev})
	require.True(t, ok)
	assert.Equal(t, "SERVER_UNAVAILABLE", rec.ErrKind)
	assert.Equal(t, int64(1500), rec.DurationMS)

	_, ok = deliveryRecord(eventbus.Event{Topic: eventbus.TopicQueued, Data: ev})
	assert.False(t, ok)
}

type okSender struct{}

func (okSender) SendMessage(context.Context, string, kit.OutgoingMessage) error { return nil }

func TestRecorderWritesSettledMessages(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "log")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		recordDeliveries(ctx, bus, st, logx.Nop())
	}()

	c := relay.New(relay.Config{
		Endpoint:    kit.Endpoint{Token: "1:x", ChatID: "1"},
		MinInterval: time.Millisecond,
	}, okSender{}, relay.WithBus(bus))
	// Let the recorder subscribe before the first publish.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Submit(context.Background(), relay.Raw("hello")))
	_, err = c.Enqueue(context.Background(), relay.Structured(relay.InquiryRecord{}))
	require.Error(t, err)

	require.Eventually(t, func() bool {
		recs, err := st.RecentDeliveries(context.Background(), 10)
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := st.RecentDeliveries(context.Background(), 10)
	require.NoError(t, err)
	outcomes := []string{recs[0].Outcome, recs[1].Outcome}
	assert.ElementsMatch(t, []string{relay.OutcomeSent, relay.OutcomeRejected}, outcomes)

	cancel()
	<-done
	closeCtx, cancelClose := context.WithTimeout(context.Background(), time.Second)
	defer cancelClose()
	require.NoError(t, c.Close(closeCtx))
}

func TestRecorderFlushesBufferedEventsOnStop(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "log")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	now := time.Now()
	events := make(chan eventbus.Event, 8)
	for i := 0; i < 3; i++ {
		events <- eventbus.Event{Topic: eventbus.TopicSent, Data: relay.DeliveryEvent{
			ID: fmt.Sprintf("m%d", i), Kind: relay.LabelInquiry, Outcome: relay.OutcomeSent,
			Attempts: 1, QueuedAt: now, SettledAt: now,
		}}
	}
	events <- eventbus.Event{Topic: eventbus.TopicQueued, Data: relay.DeliveryEvent{ID: "q"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recordFrom(ctx, events, st, logx.Nop())

	recs, err := st.RecentDeliveries(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestVerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/bot1:good/getMe" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true}}`))
	}))
	defer srv.Close()
	tg := telegram.New(telegram.Config{BaseURL: srv.URL}, srv.Client())

	require.NoError(t, verifyToken(context.Background(), tg, "1:good", logx.Nop()))

	err := verifyToken(context.Background(), tg, "1:bad", logx.Nop())
	assert.Equal(t, relay.KindInvalidCredentials, relay.KindOf(err))
}

func TestProbe(t *testing.T) {
	assert.Nil(t, newProbe("  ", nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	probe := newProbe(srv.URL, srv.Client())
	assert.True(t, probe(context.Background()))

	srv.Close()
	assert.False(t, probe(context.Background()))
}

// fakeBotAPI answers sendMessage like the Telegram Bot API.
func fakeBotAPI(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true}}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "/bot1:abc/sendMessage", r.URL.Path)
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAppLifecycle(t *testing.T) {
	for _, k := range []string{"TELEGRAM_BOT_TOKEN", "VITE_TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "VITE_TELEGRAM_CHAT_ID", "TELEGRAM_API_BASE", "INQUIRYRELAY_ADDR", "INQUIRYRELAY_LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	var calls atomic.Int32
	api := fakeBotAPI(t, &calls)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{
		"telegram": {"token": "1:abc", "chat_id": "-100", "api_base": %q},
		"relay": {"min_interval": "1ms"},
		"intake": {"enabled": true, "addr": "127.0.0.1:0", "metrics": true},
		"schedule": {"heartbeat": "@daily", "prune": "@daily"},
		"logging": {"level": "error", "console": true},
		"storage": {"driver": "file", "path": %q}
	}`, api.URL, filepath.Join(dir, "relay"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	a, err := New(cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return a.intake.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Post("http://"+a.intake.Addr()+"/api/messages", "application/json",
		strings.NewReader(`{"text":"hello from the site"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, a.sched.RunNow("heartbeat"))
	assert.Equal(t, int32(2), calls.Load())

	require.Eventually(t, func() bool {
		recs, err := a.store.RecentDeliveries(context.Background(), 10)
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopSignal))
	<-a.Done()
}
