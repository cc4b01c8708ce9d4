// Package app wires the relay, its HTTP intake, the ops bot, the scheduler
// and the delivery log into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"inquiryrelay/internal/config"
	"inquiryrelay/internal/eventbus"
	"inquiryrelay/internal/intake"
	"inquiryrelay/internal/metrics"
	"inquiryrelay/internal/opsbot"
	"inquiryrelay/internal/relay"
	rtsup "inquiryrelay/internal/runtime/supervisor"
	"inquiryrelay/internal/schedule"
	"inquiryrelay/internal/storage"
	"inquiryrelay/internal/telegram"
	logx "inquiryrelay/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	mets  *metrics.Metrics

	tg     *telegram.Client
	relay  *relay.Client
	intake *intake.Service // nil when disabled
	bot    *opsbot.Bot     // nil when disabled
	sched  *schedule.Scheduler
}

// New loads the config at cfgPath (empty means defaults plus environment) and
// builds every component. Nothing is started.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	mets := metrics.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("delivery log enabled", logx.String("driver", sc.Driver))
	}

	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg := telegram.New(telegram.Config{BaseURL: cfg.Telegram.APIBase}, nil)
	opts := []relay.Option{
		relay.WithLogger(log.With(logx.String("comp", "relay"))),
		relay.WithBus(bus),
		relay.WithObserver(mets),
	}
	if probe := newProbe(cfg.Relay.ProbeURL, nil); probe != nil {
		opts = append(opts, relay.WithProbe(probe))
	}
	rel := relay.New(rc, tg, opts...)
	if !rc.Endpoint.Configured() {
		log.Warn("telegram token or chat id missing; submissions will fail with " + string(relay.KindConfiguration))
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		mets:  mets,
		tg:    tg,
		relay: rel,
	}

	if cfg.Intake.Enabled {
		ic, err := mapIntakeConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.intake = intake.New(ic, intake.Deps{Relay: rel, Metrics: mets}, log.With(logx.String("comp", "intake")))
	}

	sc, err := mapScheduleConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = schedule.New(sc.Location, log.With(logx.String("comp", "schedule")))
	if sc.Heartbeat != "" {
		if err := a.sched.Add(schedule.Heartbeat(sc.Heartbeat, rel.Ping)); err != nil {
			return nil, err
		}
	}
	if sc.Prune != "" {
		if store == nil {
			log.Warn("schedule.prune is set but the delivery log is disabled; prune job skipped")
		} else if err := a.sched.Add(schedule.Prune(sc.Prune, sc.Retention, store.PruneBefore, log.With(logx.String("comp", "schedule")))); err != nil {
			return nil, err
		}
	}

	if cfg.OpsBot.Enabled {
		oc, err := mapOpsBotConfig(cfg)
		if err != nil {
			return nil, err
		}
		bot, err := opsbot.New(oc, opsbot.Deps{Relay: rel, Store: store, Jobs: a.sched.Entries}, log.With(logx.String("comp", "opsbot")))
		if err != nil {
			return nil, fmt.Errorf("ops bot: %w", err)
		}
		a.bot = bot
	}
	return a, nil
}

// Relay exposes the notification client for embedding callers.
func (a *App) Relay() *relay.Client { return a.relay }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapRelayConfig(cfg); err != nil {
			return err
		}
		if _, err := mapIntakeConfig(cfg); err != nil {
			return err
		}
		if _, err := mapScheduleConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if a.store != nil {
		a.sup.Go0("deliveries.record", func(c context.Context) {
			recordDeliveries(c, a.bus, a.store, a.log.With(logx.String("comp", "storage")))
		})
	}
	a.sup.Go0("eventbus.log", func(c context.Context) { logEvents(c, a.bus, a.log) })
	if token := strings.TrimSpace(a.cfgm.Get().Telegram.Token); token != "" {
		a.sup.Go0("telegram.verify", func(c context.Context) {
			_ = verifyToken(c, a.tg, token, a.log.With(logx.String("comp", "telegram")))
		})
	}

	if a.intake != nil {
		a.intake.Start(a.sup.Context())
	}
	if a.bot != nil {
		if err := a.bot.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.sched.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log, func() bool { return a.sup.Err() == nil })
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("intake", a.intake != nil),
		logx.Bool("ops_bot", a.bot != nil),
		logx.Bool("delivery_log", a.store != nil),
		logx.Int("jobs", len(a.sched.Entries())),
	)
	return nil
}

// reloadLoop applies hot-reloadable config: logging, relay delivery settings
// and formatting. Other sections are reported as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(changed) == 0 {
				a.log.Info("config reloaded (no changes)")
				lastApplied = newCfg
				continue
			}

			a.logs.Apply(mapLogConfig(newCfg))
			rc, err := mapRelayConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
			} else {
				a.relay.Apply(rc)
			}

			restart := config.RestartRequired(changed)
			if strings.TrimSpace(lastApplied.Telegram.APIBase) != strings.TrimSpace(newCfg.Telegram.APIBase) {
				restart = append(restart, "telegram.api_base")
			}
			if len(restart) > 0 {
				a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
			}
			lastApplied = newCfg

			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// Stop shuts components down in dependency order: intake first so no new
// submissions arrive, then the bot and scheduler, then the relay drains its
// queue, and finally the delivery log is closed.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("intake", 5*time.Second, func(c context.Context) error {
		if a.intake == nil {
			return nil
		}
		return a.intake.Stop(c)
	})
	step("opsbot", 3*time.Second, func(c context.Context) error {
		if a.bot == nil {
			return nil
		}
		return a.bot.Stop(c)
	})
	step("schedule", 3*time.Second, a.sched.Stop)
	step("relay", 15*time.Second, a.relay.Close)

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
