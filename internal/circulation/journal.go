// internal/circulation/journal.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libracore/internal/eventstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MemoryJournal keeps events in process. It backs tests and the memory
// store driver.
type MemoryJournal struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{events: make(map[string][]Event)}
}

func (j *MemoryJournal) Record(ctx context.Context, resourceID string, events ...Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[resourceID] = append(j.events[resourceID], events...)
	return nil
}

// History implements Journal.
func (j *MemoryJournal) History(ctx context.Context, resourceID string) ([]Event, error) {
	return j.Events(resourceID), nil
}

// Events returns what has been recorded for resourceID, oldest first.
func (j *MemoryJournal) Events(resourceID string) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.events[resourceID])
}

const (
	aggregateType  = "resource"
	appendAttempts = 3
)

// resourceNamespace derives stable stream IDs from resource IDs.
var resourceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("libracore:resource"))

// StreamID is the event stream of a resource.
func StreamID(resourceID string) uuid.UUID {
	return uuid.NewSHA1(resourceNamespace, []byte(resourceID))
}

// EventStoreJournal appends to the Postgres event store, one stream per
// resource.
type EventStoreJournal struct {
	store *eventstore.EventStore
}

func NewEventStoreJournal(store *eventstore.EventStore) *EventStoreJournal {
	return &EventStoreJournal{store: store}
}

// Record appends events at the stream's current version, retrying when
// another writer got there first.
func (j *EventStoreJournal) Record(ctx context.Context, resourceID string, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := make([]eventstore.Event, len(events))
	for i, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", e.Type, err)
		}
		batch[i] = eventstore.Event{
			EventType: e.Type,
			EventData: data,
			Metadata:  map[string]string{"resource_id": resourceID},
		}
	}

	id := StreamID(resourceID)
	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		var version int
		version, err = j.store.GetCurrentVersion(ctx, id)
		if err != nil {
			return err
		}
		err = j.store.AppendEvents(ctx, id, aggregateType, version, batch)
		if !errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return err
		}
	}
	return fmt.Errorf("append to %s after %d attempts: %w", resourceID, appendAttempts, err)
}

// History loads a resource's stream. Event data comes back as raw JSON.
func (j *EventStoreJournal) History(ctx context.Context, resourceID string) ([]Event, error) {
	stored, err := j.store.LoadEvents(ctx, StreamID(resourceID), 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Event, len(stored))
	for i, e := range stored {
		out[i] = Event{Type: e.EventType, Data: e.EventData}
	}
	return out, nil
}
