// Package tgtext provides small Telegram text helpers:
//   - Escaping for ParseMode "HTML" and legacy "Markdown"
//   - Bold/italic/code wrappers that escape their input
//   - Rune-aware length and truncation (the Bot API counts characters, not bytes)
//
// Values of type H are treated as already-escaped markup for the mode they
// were built for. Never mix H values built for different modes in one message.
package tgtext
