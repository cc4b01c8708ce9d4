package tgtext

import (
	"html"
	"strings"
)

// Mode is a Telegram parse mode.
type Mode string

const (
	ModeMarkdown Mode = "Markdown"
	ModeHTML     Mode = "HTML"
)

// ParseMode normalizes a configured parse mode. Unknown values fall back to Markdown.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html":
		return ModeHTML
	default:
		return ModeMarkdown
	}
}

// H represents markup that is safe to pass to Telegram in the mode it was built for.
type H string

func (h H) String() string { return string(h) }

// Legacy Markdown only treats these as entity delimiters. Outside of an entity
// they must be prefixed with a backslash; a lone backslash is literal.
var markdownReplacer = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// Inside an entity legacy Markdown has no escapes, so delimiters are dropped.
var markdownEntityReplacer = strings.NewReplacer("_", "", "*", "", "`", "", "[", "")

// Esc escapes user-controlled text for the given mode.
func Esc(m Mode, s string) H {
	if m == ModeHTML {
		return H(html.EscapeString(s))
	}
	return H(markdownReplacer.Replace(s))
}

// Raw marks a string as already-safe markup.
// Use sparingly.
func Raw(s string) H { return H(s) }

// B renders bold text.
func B(m Mode, s string) H {
	if m == ModeHTML {
		return H("<b>" + html.EscapeString(s) + "</b>")
	}
	return H("*" + markdownEntityReplacer.Replace(s) + "*")
}

// I renders italic text.
func I(m Mode, s string) H {
	if m == ModeHTML {
		return H("<i>" + html.EscapeString(s) + "</i>")
	}
	return H("_" + markdownEntityReplacer.Replace(s) + "_")
}

// Code renders inline code. Legacy Markdown has no escape inside code spans,
// so backticks are dropped from the content.
func Code(m Mode, s string) H {
	if m == ModeHTML {
		return H("<code>" + html.EscapeString(s) + "</code>")
	}
	return H("`" + strings.ReplaceAll(s, "`", "'") + "`")
}

// JoinH joins markup parts with sep, skipping blank parts.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}
