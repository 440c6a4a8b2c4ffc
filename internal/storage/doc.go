// Package storage keeps the notification history observed on the event bus.
//
// Drivers:
//   - file: JSON Lines journal, replayed into memory on open
//   - sqlite: modernc.org/sqlite database with an embedded schema
package storage
