// internal/store/store_test.go
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracore/internal/config"
	"libracore/internal/snapshot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleLibrary(takenAt string) *snapshot.Library {
	return &snapshot.Library{
		TakenAt: takenAt,
		Resources: []snapshot.Resource{{
			ID: "r1", Kind: "book", Title: "Dune", DateAdded: "01-03-2024", NextCopyID: 1,
			Copies: []snapshot.Copy{{
				ID: "0", LoanDuration: 14,
				History: []snapshot.Loan{},
				Current: snapshot.Loan{UserID: "alice", DateBorrowed: "01-03-2024 10:30:00"},
			}},
			Queue: []string{"bob"},
		}},
		Members: []snapshot.Member{{Username: "alice", Email: "alice@example.com", Borrowed: []string{"r1-0"}}},
	}
}

// exercise runs the behaviour every Store must share.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	first := sampleLibrary("01-03-2024 10:30:00")
	require.NoError(t, s.Save(ctx, first))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := sampleLibrary("02-03-2024 09:00:00")
	second.Resources[0].Queue = nil
	require.NoError(t, s.Save(ctx, second))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "02-03-2024 09:00:00", got.TakenAt)
	assert.Empty(t, got.Resources[0].Queue)

	// Saves are copies; later edits to the caller's value do not leak in.
	second.Members[0].Balance = 99
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Members[0].Balance)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "library.db")
	s, err := OpenSQLite(context.Background(), path, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exercise(t, s)
}

func TestSQLitePrunesAndReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "library.db")
	s, err := OpenSQLite(ctx, path, quietLogger())
	require.NoError(t, err)

	for i := 0; i < keepSnapshots+5; i++ {
		require.NoError(t, s.Save(ctx, sampleLibrary(fmt.Sprintf("%02d-03-2024 10:00:00", i+1))))
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, keepSnapshots, n)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, quietLogger())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%02d-03-2024 10:00:00", keepSnapshots+5), got.TakenAt)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.Config{StoreDriver: config.DriverMemory}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.Config{StoreDriver: "mongo"}, quietLogger())
	assert.Error(t, err)
}

func TestPostgres(t *testing.T) {
	getenv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("PGHOST", "localhost"), getenv("PGPORT", "5432"), getenv("PGUSER", "user"),
		getenv("PGPASSWORD", "password"), getenv("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", connStr)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	s, err := NewPostgres(ctx, db, quietLogger())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `TRUNCATE library_snapshots`)
	require.NoError(t, err)

	exercise(t, s)
	require.NoError(t, s.Close())
	assert.NoError(t, db.Ping(), "Close must not close a borrowed pool")
}
