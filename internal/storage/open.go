package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "remindd/pkg/logx"
)

// Store is the persistence API used by the HTTP layer and the retention
// sweep. Implementations are safe for concurrent use.
type Store interface {
	PutEvent(ctx context.Context, rec EventRecord) error
	GetEvent(ctx context.Context, id string) (EventRecord, error)
	ListEvents(ctx context.Context, limit int) ([]EventRecord, error)
	// DeleteOlderThan removes events whose event instant is before cutoff
	// and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
