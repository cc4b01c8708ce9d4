package config

import (
	"reflect"
	"sort"
	"strings"

	logx "inquiryrelay/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (the bot token) are reported only as
// "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || strings.TrimSpace(ot.APIBase) != strings.TrimSpace(nt.APIBase) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", set(nt.Token)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.chat_id_set", set(nt.ChatID)),
			logx.String("telegram.api_base", strings.TrimSpace(nt.APIBase)),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		r := newCfg.Relay
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.min_interval", r.MinInterval),
			logx.Int("relay.max_attempts", r.MaxAttempts),
			logx.String("relay.initial_backoff", r.InitialBackoff),
			logx.String("relay.max_backoff", r.MaxBackoff),
			logx.String("relay.request_timeout", r.RequestTimeout),
			logx.Int("relay.max_pending", r.MaxPending),
			logx.Bool("relay.probe", set(r.ProbeURL)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Format, newCfg.Format) {
		f := newCfg.Format
		changed = append(changed, "format")
		attrs = append(attrs,
			logx.String("format.parse_mode", f.ParseMode),
			logx.String("format.timezone", f.Timezone),
			logx.Int("format.priority_services", len(f.PriorityServices)),
			logx.Int("format.max_message_len", f.MaxMessageLen),
		)
	}

	if !reflect.DeepEqual(oldCfg.Intake, newCfg.Intake) {
		in := newCfg.Intake
		changed = append(changed, "intake")
		attrs = append(attrs,
			logx.Bool("intake.enabled", in.Enabled),
			logx.String("intake.addr", strings.TrimSpace(in.Addr)),
			logx.Int("intake.allowed_origins", len(in.AllowedOrigins)),
			logx.Int("intake.rate_per_minute", in.RatePerMinute),
			logx.Bool("intake.metrics", in.Metrics),
		)
	}

	if !reflect.DeepEqual(oldCfg.OpsBot, newCfg.OpsBot) {
		changed = append(changed, "ops_bot")
		attrs = append(attrs,
			logx.Bool("ops_bot.enabled", newCfg.OpsBot.Enabled),
			logx.Int("ops_bot.owner_count", len(newCfg.OpsBot.OwnerUserIDs)),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		s := newCfg.Schedule
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.heartbeat", s.Heartbeat),
			logx.String("schedule.prune", s.Prune),
			logx.String("schedule.retention", s.Retention),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", l.Level),
			logx.Bool("logx.console", l.Console),
			logx.Bool("logx.file_enabled", l.File.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", set(nS.Path)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart (listeners, pollers and the delivery log are built once).
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "intake", "ops_bot", "storage", "schedule":
			out = append(out, s)
		}
	}
	return out
}
