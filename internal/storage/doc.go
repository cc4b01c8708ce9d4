// Package storage persists the delivery log: one metadata record per settled
// message. Message text and inquiry fields are never stored.
//
// Drivers:
//   - "file": JSON Lines file, rewritten on prune
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
