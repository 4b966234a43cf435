// internal/notify/dispatcher.go
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

var ErrClosed = errors.New("dispatcher closed")

// Dispatcher queues notices for a pool of workers that hand them to the
// underlying Notifier at a bounded rate. Enqueueing never blocks: when the
// queue is full the notice is dropped and logged.
type Dispatcher struct {
	next    Notifier
	queue   chan ReturnDue
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// PerSecond limits deliveries across all workers. Zero means unlimited.
	PerSecond float64
}

func NewDispatcher(next Notifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		next:    next,
		queue:   make(chan ReturnDue, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, cfg.Workers),
		logger:  logger,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	return d
}

// NotifyReturnDue queues n and returns immediately. It only fails once the
// dispatcher is closed; a full queue drops the notice with a warning.
func (d *Dispatcher) NotifyReturnDue(ctx context.Context, n ReturnDue) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping notice",
			slog.String("recipient", n.Recipient), slog.String("copy", n.CopyRef))
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for n := range d.queue {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("notice abandoned", slog.Int("worker", id), slog.String("recipient", n.Recipient), slog.Any("error", err))
			continue
		}
		if err := d.next.NotifyReturnDue(ctx, n); err != nil {
			d.logger.Error("notice delivery failed", slog.Int("worker", id), slog.String("recipient", n.Recipient), slog.Any("error", err))
		}
	}
}

// Close stops accepting notices, drains what is queued and waits for the
// workers. If ctx ends first, remaining notices are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
