// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"libracore/internal/snapshot"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS library_snapshots (
	id BIGSERIAL PRIMARY KEY,
	taken_at TEXT NOT NULL,
	payload JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// keepSnapshots is how many saves Postgres retains.
const keepSnapshots = 10

// Postgres appends each save as a row and prunes old ones.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
	owned  bool
}

// OpenPostgres connects to dsn and migrates the snapshot table.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p, err := NewPostgres(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPostgres uses an existing pool. Close leaves the pool open.
func NewPostgres(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("migrate snapshots: %w", err)
	}
	return &Postgres{db: db, logger: logger}, nil
}

// DB exposes the pool so the event journal can share it.
func (p *Postgres) DB() *sqlx.DB { return p.db }

func (p *Postgres) Load(ctx context.Context) (*snapshot.Library, error) {
	var payload []byte
	err := p.db.GetContext(ctx, &payload, `SELECT payload FROM library_snapshots ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot.Unmarshal(payload)
}

func (p *Postgres) Save(ctx context.Context, lib *snapshot.Library) error {
	payload, err := snapshot.Marshal(lib)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.GetContext(ctx, &id,
		`INSERT INTO library_snapshots (taken_at, payload) VALUES ($1, $2) RETURNING id`,
		lib.TakenAt, string(payload)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM library_snapshots WHERE id <= $1`, id-keepSnapshots)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	pruned, _ := res.RowsAffected()
	p.logger.InfoContext(ctx, "snapshot saved",
		slog.Int64("id", id), slog.Int("bytes", len(payload)), slog.Int64("pruned", pruned))
	return nil
}

func (p *Postgres) Close() error {
	if !p.owned {
		return nil
	}
	return p.db.Close()
}
