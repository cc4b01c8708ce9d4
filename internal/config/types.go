package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"inquiryrelay/internal/schedule"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Relay    RelayConfig    `json:"relay"`
	Format   FormatConfig   `json:"format"`
	Intake   IntakeConfig   `json:"intake"`
	OpsBot   OpsBotConfig   `json:"ops_bot"`
	Schedule ScheduleConfig `json:"schedule"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// TelegramConfig identifies the bot and the chat inquiries are delivered to.
//
// Token and ChatID are normally supplied by the environment (see ApplyEnv);
// values in the file are used only when the environment has none.
type TelegramConfig struct {
	Token   string `json:"token,omitempty"` // do not log
	ChatID  string `json:"chat_id,omitempty"`
	APIBase string `json:"api_base,omitempty"` // default: https://api.telegram.org
}

// RelayConfig tunes delivery.
//
// Defaults (when fields are omitted/zero):
//   - min_interval: "1s"
//   - max_attempts: 3
//   - initial_backoff: "1s"
//   - max_backoff: "30s"
//   - request_timeout: "10s"
//   - max_pending: 0 (unbounded)
type RelayConfig struct {
	MinInterval    string `json:"min_interval,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	InitialBackoff string `json:"initial_backoff,omitempty"`
	MaxBackoff     string `json:"max_backoff,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	MaxPending     int    `json:"max_pending,omitempty"`
	// ProbeURL enables the connectivity probe (HEAD request) used to tell an
	// offline host apart from a failing API. Empty disables it.
	ProbeURL string `json:"probe_url,omitempty"`
}

type FormatConfig struct {
	ParseMode        string   `json:"parse_mode,omitempty"` // "Markdown" (default) or "HTML"
	Brand            string   `json:"brand,omitempty"`
	Source           string   `json:"source,omitempty"`
	Timezone         string   `json:"timezone,omitempty"` // IANA name; default "Africa/Tunis"
	PriorityServices []string `json:"priority_services,omitempty"`
	MaxMessageLen    int      `json:"max_message_len,omitempty"`
}

// IntakeConfig controls the HTTP API used by the website forms.
//
// Security note:
//   - Bind to localhost behind a reverse proxy unless AllowedOrigins is set.
type IntakeConfig struct {
	Enabled         bool     `json:"enabled"`
	Addr            string   `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	MaxBodyBytes    int64    `json:"max_body_bytes,omitempty"`    // default: 64 KiB
	RatePerMinute   int      `json:"rate_per_minute,omitempty"`   // submissions per minute, all clients; 0 = unlimited
	FallbackContact string   `json:"fallback_contact,omitempty"` // shown to users when delivery fails
	WaitTimeout     string   `json:"wait_timeout,omitempty"`     // how long a request waits for delivery; default "45s"
	Metrics         bool     `json:"metrics"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// OpsBotConfig controls the owner-only Telegram command bot.
type OpsBotConfig struct {
	Enabled      bool    `json:"enabled"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// ScheduleConfig controls periodic jobs. Specs are cron expressions with an
// optional seconds field, or descriptors like "@every 6h". Empty disables a job.
type ScheduleConfig struct {
	Timezone  string `json:"timezone,omitempty"`
	Heartbeat string `json:"heartbeat,omitempty"`
	Prune     string `json:"prune,omitempty"`
	Retention string `json:"retention,omitempty"` // default "720h"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the delivery log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/deliveries.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Intake:  IntakeConfig{Enabled: true, Metrics: true},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Validate checks fields that cannot be defaulted. It does not require the
// Telegram credentials; their absence is reported per submission.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	durations := map[string]string{
		"relay.min_interval":    cfg.Relay.MinInterval,
		"relay.initial_backoff": cfg.Relay.InitialBackoff,
		"relay.max_backoff":     cfg.Relay.MaxBackoff,
		"relay.request_timeout": cfg.Relay.RequestTimeout,
		"intake.wait_timeout":   cfg.Intake.WaitTimeout,
		"intake.read_timeout":   cfg.Intake.ReadTimeout,
		"intake.write_timeout":  cfg.Intake.WriteTimeout,
		"intake.idle_timeout":   cfg.Intake.IdleTimeout,
		"ops_bot.poll_timeout":  cfg.OpsBot.PollTimeout,
		"schedule.retention":    cfg.Schedule.Retention,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if cfg.Relay.MaxAttempts < 0 {
		add(errors.New("relay.max_attempts must be >= 0"))
	}
	if cfg.Relay.MaxPending < 0 {
		add(errors.New("relay.max_pending must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Format.ParseMode)) {
	case "", "markdown", "html":
	default:
		add(fmt.Errorf("format.parse_mode: unsupported %q (want Markdown or HTML)", cfg.Format.ParseMode))
	}
	if cfg.Format.MaxMessageLen < 0 || cfg.Format.MaxMessageLen > 4096 {
		add(errors.New("format.max_message_len must be within 0..4096"))
	}
	if _, err := LoadLocation("format.timezone", cfg.Format.Timezone, DefaultTimezone); err != nil {
		add(err)
	}
	if _, err := LoadLocation("schedule.timezone", cfg.Schedule.Timezone, DefaultTimezone); err != nil {
		add(err)
	}
	for path, spec := range map[string]string{
		"schedule.heartbeat": cfg.Schedule.Heartbeat,
		"schedule.prune":     cfg.Schedule.Prune,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if err := schedule.ValidateSpec(spec); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}
	if cfg.Intake.MaxBodyBytes < 0 {
		add(errors.New("intake.max_body_bytes must be >= 0"))
	}
	if cfg.Intake.RatePerMinute < 0 {
		add(errors.New("intake.rate_per_minute must be >= 0"))
	}
	if cfg.OpsBot.Enabled && len(cfg.OpsBot.OwnerUserIDs) == 0 {
		add(errors.New("ops_bot.owner_user_ids is required when ops_bot is enabled"))
	}
	return errors.Join(errs...)
}

// DefaultTimezone is where submission times are rendered by default.
const DefaultTimezone = "Africa/Tunis"

// LoadLocation resolves an IANA time zone name, falling back to def when raw
// is empty.
func LoadLocation(path, raw, def string) (*time.Location, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		name = def
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: unknown time zone %q: %w", path, name, err)
	}
	return loc, nil
}
