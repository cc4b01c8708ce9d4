// Package logx configures inquiryrelay's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Levels swappable at runtime when the config file is reloaded
//
// Every sink masks Telegram bot tokens.
package logx
