// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"libracore/internal/circulation"
	"libracore/internal/config"
	"libracore/internal/eventstore"
	"libracore/internal/membership"
	"libracore/internal/notify"
	"libracore/internal/store"
)

const saveInterval = 5 * time.Minute

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("circulation service stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var journal circulation.Journal = circulation.NewMemoryJournal()
	if pg, ok := st.(*store.Postgres); ok {
		es := eventstore.NewEventStore(pg.DB())
		if err := es.Migrate(ctx); err != nil {
			return err
		}
		journal = circulation.NewEventStoreJournal(es)
	}

	dispatcher := notify.NewDispatcher(notify.LogNotifier{Logger: logger}, notify.DispatcherConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		PerSecond: cfg.NotifyRatePerSec,
	}, logger)

	members := membership.NewService(logger, nil)
	svc := circulation.NewService(members,
		circulation.WithBorrowLimit(cfg.BorrowLimit),
		circulation.WithNotifier(dispatcher),
		circulation.WithJournal(journal),
		circulation.WithLogger(logger),
	)

	lib, err := st.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		logger.Info("no saved library, starting empty", slog.String("driver", cfg.StoreDriver))
	case err != nil:
		return err
	default:
		if err := svc.Restore(ctx, lib); err != nil {
			return err
		}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	circulation.NewHandler(svc).Routes(router)
	membership.NewHandler(members).Routes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	save := func(ctx context.Context) {
		lib, err := svc.Snapshot(ctx)
		if err == nil {
			err = st.Save(ctx, lib)
		}
		if err != nil {
			logger.Error("snapshot not saved", slog.Any("error", err))
		}
	}
	go func() {
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				save(ctx)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting circulation service", slog.String("addr", server.Addr), slog.String("store", cfg.StoreDriver))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notices still queued at shutdown", slog.Any("error", err))
	}
	save(shutdownCtx)
	logger.Info("circulation service stopped")
	return nil
}

// setupTracing installs an OTLP/HTTP tracer provider when an endpoint is
// configured. Without one the global no-op provider stays in place.
func setupTracing(ctx context.Context, cfg config.Config) (func(), error) {
	if cfg.OTLPEndpoint == "" {
		return func() {}, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	if err != nil {
		return nil, err
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String("libracore-circulation"),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}
