// internal/notify/dispatcher_test.go
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	got   []ReturnDue
	fail  bool
	block chan struct{}
}

func (r *recorder) NotifyReturnDue(ctx context.Context, n ReturnDue) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	if r.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (r *recorder) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, n := range r.got {
		out[i] = n.Recipient
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDelivers(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, DispatcherConfig{Workers: 2, QueueSize: 10}, quietLogger())

	for _, who := range []string{"alice@example.com", "bob@example.com", "carl@example.com"} {
		require.NoError(t, d.NotifyReturnDue(context.Background(), ReturnDue{Recipient: who, Title: "Dune"}))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com", "carl@example.com"}, rec.recipients())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher(rec, DispatcherConfig{Workers: 1, QueueSize: 1}, quietLogger())

	// One notice is held by the blocked worker, one fills the queue, the
	// rest are dropped without blocking the caller.
	for i := 0; i < 10; i++ {
		require.NoError(t, d.NotifyReturnDue(context.Background(), ReturnDue{Recipient: "x"}))
	}
	close(rec.block)
	require.NoError(t, d.Close(context.Background()))

	n := len(rec.recipients())
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 2)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	rec := &recorder{fail: true}
	d := NewDispatcher(rec, DispatcherConfig{Workers: 1}, quietLogger())

	require.NoError(t, d.NotifyReturnDue(context.Background(), ReturnDue{Recipient: "a"}))
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, rec.recipients(), 1)
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(Discard{}, DispatcherConfig{}, quietLogger())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	err := d.NotifyReturnDue(context.Background(), ReturnDue{Recipient: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcherRateLimited(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, DispatcherConfig{Workers: 1, QueueSize: 10, PerSecond: 20}, quietLogger())

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, d.NotifyReturnDue(context.Background(), ReturnDue{Recipient: "r"}))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, rec.recipients(), 5)
	// Burst of one, then four more at 20/s.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{Logger: quietLogger()}.NotifyReturnDue(context.Background(), ReturnDue{Recipient: "a"}))
}
