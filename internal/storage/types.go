package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("event not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   JSON Lines event log + snapshot
//
// If Driver is empty, sqlite is used. "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventRecord is the persisted form of a submitted event.
// Keep it compact and schema-stable.
type EventRecord struct {
	ID        string
	Name      string
	Date      string // YYYY-MM-DD
	Time      string // HH:MM
	CreatedAt time.Time
}
