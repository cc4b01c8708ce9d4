package relay

import (
	"strings"
	"time"

	"inquiryrelay/pkg/tgtext"
)

const submittedLayout = "Monday, 2 January 2006 at 15:04 MST"

// FormatConfig controls how inquiries are rendered.
type FormatConfig struct {
	Mode             tgtext.Mode
	Brand            string
	Source           string // default source label when the inquiry has none
	Location         *time.Location
	PriorityServices []string // services rendered with "High" priority
	MaxLen           int      // runes; <= 0 means tgtext.MaxMessageLen
}

// Formatter renders payloads into Telegram message text. It performs no I/O.
type Formatter struct {
	cfg FormatConfig
}

func NewFormatter(cfg FormatConfig) *Formatter {
	if cfg.Mode == "" {
		cfg.Mode = tgtext.ModeMarkdown
	}
	if strings.TrimSpace(cfg.Brand) == "" {
		cfg.Brand = "Website"
	}
	if strings.TrimSpace(cfg.Source) == "" {
		cfg.Source = "Website Contact Form"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = tgtext.MaxMessageLen
	}
	return &Formatter{cfg: cfg}
}

func (f *Formatter) Mode() tgtext.Mode { return f.cfg.Mode }

func (f *Formatter) MaxLen() int { return f.cfg.MaxLen }

// Format renders p as of at. Output longer than MaxLen runes is refused with
// a MessageTooLong error.
func (f *Formatter) Format(p Payload, at time.Time) (string, error) {
	var text string
	switch p.kind {
	case PayloadInquiry:
		text = f.inquiry(p.inquiry.Normalize(), at)
	case PayloadPlain:
		text = string(tgtext.Esc(f.cfg.Mode, p.text))
	case PayloadRaw:
		text = p.text
	default:
		return "", &Error{Kind: KindInvalidInput, Fields: []string{"payload"}}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindInvalidInput, Fields: []string{"text"}}
	}
	if n := tgtext.Len(text); n > f.cfg.MaxLen {
		return "", &Error{Kind: KindMessageTooLong}
	}
	return text, nil
}

func (f *Formatter) inquiry(r InquiryRecord, at time.Time) string {
	m := f.cfg.Mode
	esc := func(s string) string { return string(tgtext.Esc(m, s)) }
	line := func(label, value string) string {
		if value == "" {
			return ""
		}
		return "• " + label + ": " + esc(value)
	}

	source := r.Source
	if source == "" {
		source = f.cfg.Source
	}
	priority := "Normal"
	for _, s := range f.cfg.PriorityServices {
		if strings.EqualFold(strings.TrimSpace(s), r.Service) {
			priority = "High"
			break
		}
	}

	sections := []tgtext.H{
		tgtext.Raw("🚀 " + tgtext.B(m, "NEW SERVICE INQUIRY - "+strings.ToUpper(f.cfg.Brand)).String()),
		block("👤 "+tgtext.B(m, "Client Information:").String(),
			line("Name", r.Name),
			line("Email", r.Email),
			line("Phone", r.Phone),
			line("Company", r.Company),
		),
		block("🛠️ "+tgtext.B(m, "Service Details:").String(),
			line("Service", r.Service),
			line("Budget", r.Budget),
			line("Timeline", r.Timeline),
		),
		block("💬 "+tgtext.B(m, "Project Details:").String(), esc(r.Message)),
		block("📊 "+tgtext.B(m, "Inquiry Summary:").String(),
			line("Source", source),
			"• Priority: "+priority,
			"• Status: New Inquiry",
		),
		tgtext.Raw("📅 " + tgtext.B(m, "Submitted:").String() + " " + esc(at.In(f.cfg.Location).Format(submittedLayout))),
		tgtext.Raw("---\n" + tgtext.I(m, "Powered by "+f.cfg.Brand).String()),
	}
	return tgtext.JoinH("\n\n", sections...).String()
}

// ConnectionTest renders the message used by Ping.
func (f *Formatter) ConnectionTest(at time.Time) string {
	m := f.cfg.Mode
	return tgtext.JoinH("\n\n",
		tgtext.Raw("🔧 "+tgtext.B(m, "Connection Test - "+f.cfg.Brand).String()),
		tgtext.Esc(m, "Testing Telegram integration..."),
		tgtext.Esc(m, "Time: "+at.In(f.cfg.Location).Format(submittedLayout)),
	).String()
}

// block joins a heading with its non-empty lines.
func block(heading string, lines ...string) tgtext.H {
	out := make([]string, 0, len(lines)+1)
	out = append(out, heading)
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return tgtext.Raw(strings.Join(out, "\n"))
}
