// internal/store/store.go

// Package store persists whole-library snapshots between runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"libracore/internal/config"
	"libracore/internal/snapshot"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

type Store interface {
	// Load returns the most recent snapshot.
	Load(ctx context.Context) (*snapshot.Library, error)
	Save(ctx context.Context, lib *snapshot.Library) error
	Close() error
}

// Open builds the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, logger)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Memory keeps the last snapshot in encoded form, so callers never share
// slices with it.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (*snapshot.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	return snapshot.Unmarshal(m.data)
}

func (m *Memory) Save(ctx context.Context, lib *snapshot.Library) error {
	data, err := snapshot.Marshal(lib)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
