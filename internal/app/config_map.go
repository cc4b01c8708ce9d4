package app

import (
	"fmt"
	"strings"
	"time"

	"inquiryrelay/internal/config"
	"inquiryrelay/internal/intake"
	"inquiryrelay/internal/opsbot"
	"inquiryrelay/internal/relay"
	"inquiryrelay/internal/storage"
	kit "inquiryrelay/internal/transport"
	logx "inquiryrelay/pkg/logx"
	"inquiryrelay/pkg/tgtext"
)

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	if cfg == nil {
		return relay.Config{}, nil
	}
	r := cfg.Relay
	minInterval, err := config.ParseDurationOrDefault("relay.min_interval", r.MinInterval, time.Second)
	if err != nil {
		return relay.Config{}, err
	}
	initial, err := config.ParseDurationField("relay.initial_backoff", r.InitialBackoff)
	if err != nil {
		return relay.Config{}, err
	}
	maxBackoff, err := config.ParseDurationField("relay.max_backoff", r.MaxBackoff)
	if err != nil {
		return relay.Config{}, err
	}
	reqTimeout, err := config.ParseDurationField("relay.request_timeout", r.RequestTimeout)
	if err != nil {
		return relay.Config{}, err
	}
	loc, err := config.LoadLocation("format.timezone", cfg.Format.Timezone, config.DefaultTimezone)
	if err != nil {
		return relay.Config{}, err
	}

	return relay.Config{
		Endpoint: kit.Endpoint{
			Token:  strings.TrimSpace(cfg.Telegram.Token),
			ChatID: strings.TrimSpace(cfg.Telegram.ChatID),
		},
		Format: relay.FormatConfig{
			Mode:             tgtext.ParseMode(cfg.Format.ParseMode),
			Brand:            cfg.Format.Brand,
			Source:           cfg.Format.Source,
			Location:         loc,
			PriorityServices: cfg.Format.PriorityServices,
			MaxLen:           cfg.Format.MaxMessageLen,
		},
		MinInterval: minInterval,
		Policy: relay.Policy{
			MaxAttempts:    r.MaxAttempts,
			InitialBackoff: initial,
			MaxBackoff:     maxBackoff,
			RequestTimeout: reqTimeout,
		},
		MaxPending: r.MaxPending,
	}, nil
}

func mapIntakeConfig(cfg *config.Config) (intake.Config, error) {
	in := cfg.Intake
	wait, err := config.ParseDurationField("intake.wait_timeout", in.WaitTimeout)
	if err != nil {
		return intake.Config{}, err
	}
	read, err := config.ParseDurationField("intake.read_timeout", in.ReadTimeout)
	if err != nil {
		return intake.Config{}, err
	}
	write, err := config.ParseDurationField("intake.write_timeout", in.WriteTimeout)
	if err != nil {
		return intake.Config{}, err
	}
	idle, err := config.ParseDurationField("intake.idle_timeout", in.IdleTimeout)
	if err != nil {
		return intake.Config{}, err
	}
	return intake.Config{
		Addr:            strings.TrimSpace(in.Addr),
		AllowedOrigins:  in.AllowedOrigins,
		MaxBodyBytes:    in.MaxBodyBytes,
		RatePerMinute:   in.RatePerMinute,
		FallbackContact: in.FallbackContact,
		WaitTimeout:     wait,
		Metrics:         in.Metrics,
		ReadTimeout:     read,
		WriteTimeout:    write,
		IdleTimeout:     idle,
	}, nil
}

// The ops bot polls with the same token the relay sends with.
func mapOpsBotConfig(cfg *config.Config) (opsbot.Config, error) {
	poll, err := config.ParseDurationOrDefault("ops_bot.poll_timeout", cfg.OpsBot.PollTimeout, 10*time.Second)
	if err != nil {
		return opsbot.Config{}, err
	}
	loc, err := config.LoadLocation("format.timezone", cfg.Format.Timezone, config.DefaultTimezone)
	if err != nil {
		return opsbot.Config{}, err
	}
	return opsbot.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		OwnerIDs:    cfg.OpsBot.OwnerUserIDs,
		PollTimeout: poll,
		Location:    loc,
	}, nil
}

type scheduleConfig struct {
	Location  *time.Location
	Heartbeat string
	Prune     string
	Retention time.Duration
}

func mapScheduleConfig(cfg *config.Config) (scheduleConfig, error) {
	s := cfg.Schedule
	loc, err := config.LoadLocation("schedule.timezone", s.Timezone, config.DefaultTimezone)
	if err != nil {
		return scheduleConfig{}, err
	}
	retention, err := config.ParseDurationOrDefault("schedule.retention", s.Retention, 30*24*time.Hour)
	if err != nil {
		return scheduleConfig{}, err
	}
	return scheduleConfig{
		Location:  loc,
		Heartbeat: strings.TrimSpace(s.Heartbeat),
		Prune:     strings.TrimSpace(s.Prune),
		Retention: retention,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
