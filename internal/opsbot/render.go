package opsbot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"inquiryrelay/internal/relay"
	"inquiryrelay/internal/schedule"
	"inquiryrelay/internal/storage"
	"inquiryrelay/pkg/tgtext"
)

const mode = tgtext.ModeHTML

func line(label, value string) tgtext.H {
	return tgtext.JoinH(" ", tgtext.B(mode, label+":"), tgtext.Esc(mode, value))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String() + " ago"
}

// renderStatus formats relay health plus the last 24h outcome counts.
func renderStatus(h relay.Health, counts map[string]int, now time.Time) string {
	parts := []tgtext.H{
		tgtext.B(mode, "Relay status"),
		line("Configured", yesNo(h.Configured)),
		line("Online", yesNo(h.Online)),
		line("Queue", fmt.Sprintf("%d (in flight: %s)", h.QueueLength, yesNo(h.InFlight))),
		line("Last request", ago(now, h.LastRequest)),
		line("Totals", fmt.Sprintf("submitted %d, sent %d, failed %d", h.Submitted, h.Sent, h.Failed)),
	}
	if h.Stopped {
		parts = append(parts, line("State", "stopped"))
	}
	if len(counts) > 0 {
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s %d", k, counts[k]))
		}
		parts = append(parts, line("Last 24h", strings.Join(kv, ", ")))
	}
	return tgtext.JoinH("\n", parts...).String()
}

func renderRecent(recs []storage.DeliveryRecord, loc *time.Location) string {
	if len(recs) == 0 {
		return tgtext.Esc(mode, "No deliveries recorded.").String()
	}
	parts := []tgtext.H{tgtext.B(mode, fmt.Sprintf("Last %d deliveries", len(recs)))}
	for _, r := range recs {
		s := fmt.Sprintf("%s %s %s x%d", r.SettledAt.In(loc).Format("Jan 2 15:04:05"), r.Kind, r.Outcome, r.Attempts)
		if r.ErrKind != "" {
			s += " " + r.ErrKind
		}
		parts = append(parts, tgtext.Code(mode, s))
	}
	return tgtext.JoinH("\n", parts...).String()
}

func renderJobs(entries []schedule.EntryInfo, loc *time.Location) string {
	if len(entries) == 0 {
		return tgtext.Esc(mode, "No scheduled jobs.").String()
	}
	parts := []tgtext.H{tgtext.B(mode, "Scheduled jobs")}
	for _, e := range entries {
		next := "-"
		if !e.Next.IsZero() {
			next = e.Next.In(loc).Format("Jan 2 15:04")
		}
		s := fmt.Sprintf("%s [%s] next %s runs %d", e.Name, e.Spec, next, e.Runs)
		if e.LastErr != "" {
			s += " last error: " + tgtext.TruncRunes(e.LastErr, 80)
		}
		parts = append(parts, tgtext.Esc(mode, s))
	}
	return tgtext.JoinH("\n", parts...).String()
}

func renderHelp() string {
	parts := []tgtext.H{tgtext.B(mode, "Commands")}
	for _, c := range commands {
		parts = append(parts, tgtext.JoinH(" ", tgtext.Code(mode, "/"+c.name), tgtext.Esc(mode, c.desc)))
	}
	return tgtext.JoinH("\n", parts...).String()
}
