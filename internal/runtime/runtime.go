package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/bus"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/natsserver"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
	"github.com/loqalabs/loqa-podcast/internal/worker"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry
	ready      atomic.Bool
	wg         sync.WaitGroup

	nats   *natsserver.EmbeddedServer
	bus    *bus.Client
	store  *taskstore.Store
	worker *worker.Worker
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := startTelemetry(context.WithoutCancel(ctx), r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.shutdown()

	if r.nats, err = natsserver.Start(r.cfg.Bus, r.logger); err != nil {
		return err
	}
	if r.store, err = taskstore.Open(ctx, r.cfg.TaskStore, r.logger.With(slog.String("component", "taskstore"))); err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	if r.bus, err = bus.Connect(ctx, r.cfg.Bus, r.logger); err != nil {
		return err
	}

	var notifier *worker.StatusPublisher
	if r.cfg.Worker.PublishUpdates {
		notifier = worker.NewStatusPublisher(r.bus, r.logger)
		retention := time.Duration(r.cfg.TaskStore.RetentionDays) * 24 * time.Hour
		if err := r.bus.EnsureStream(protocol.StreamTaskStatus, []string{protocol.SubjectTaskStatusAll}, retention); err != nil {
			r.logger.Warn("task status stream unavailable", slog.String("error", err.Error()))
		}
	}
	pipe, err := pipeline.FromConfig(ctx, r.cfg, r.store, notifier, r.logger)
	if err != nil {
		return err
	}
	if r.worker, err = worker.New(ctx, r.cfg.Worker, r.bus, r.store, pipe, r.logger); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if tel.metrics != nil {
		mux.Handle("/metrics", tel.metrics)
	}
	newAPI(r.store, func(taskID string, req podcast.Request) error {
		return worker.Enqueue(r.bus, taskID, req)
	}, r.logger).register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

// shutdown releases components in reverse start order. In-flight runs are cancelled
// and marked failed by the pipeline before the store closes.
func (r *Runtime) shutdown() {
	r.worker.Close()
	r.bus.Close()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("task store close error", slog.String("error", err.Error()))
		}
	}
	r.nats.Shutdown()

	if r.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.telemetry.Shutdown(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && (!r.cfg.Worker.Enabled || r.worker.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
