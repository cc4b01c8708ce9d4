package tgtext

import "unicode/utf8"

// MaxMessageLen is the Bot API limit for sendMessage text, after entity parsing.
const MaxMessageLen = 4096

// Len returns the length of s in runes.
func Len(s string) int { return utf8.RuneCountInString(s) }

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
