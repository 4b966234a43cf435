// internal/circulation/journal_test.go
package circulation

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracore/internal/eventstore"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	require.NoError(t, j.Record(ctx, "r1", Event{Type: EventCopyLoaned}, Event{Type: EventCopyReturned}))
	require.NoError(t, j.Record(ctx, "r2", Event{Type: EventCopyReserved}))

	history, err := j.History(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{EventCopyLoaned, EventCopyReturned}, eventTypes(history))

	history, err = j.History(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStreamIDStable(t *testing.T) {
	assert.Equal(t, StreamID("dune"), StreamID("dune"))
	assert.NotEqual(t, StreamID("dune"), StreamID("dune-film"))
}

func TestEventStoreJournal(t *testing.T) {
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
	es := eventstore.NewEventStore(db)
	require.NoError(t, es.Migrate(ctx))
	j := NewEventStoreJournal(es)

	resourceID := "journal-" + uuid.NewString()
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, resourceID,
		Event{Type: EventCopyLoaned, Data: CopyLoanedEvent{Ref: resourceID + "-0", Username: "alice", DateBorrowed: now}}))
	require.NoError(t, j.Record(ctx, resourceID,
		Event{Type: EventCopyReturned, Data: CopyReturnedEvent{Ref: resourceID + "-0", Username: "alice", DateReturned: now}}))

	history, err := j.History(ctx, resourceID)
	require.NoError(t, err)
	assert.Equal(t, []string{EventCopyLoaned, EventCopyReturned}, eventTypes(history))

	version, err := es.GetCurrentVersion(ctx, StreamID(resourceID))
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}
