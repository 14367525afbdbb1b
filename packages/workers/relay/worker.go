// Package relayworker runs the bus-facing worker: it consumes job requests,
// drives them through the relay controller against the local Stable Diffusion
// API, and publishes terminal results.
package relayworker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sdrelay/sdrelay/core/infra/buildinfo"
	"github.com/sdrelay/sdrelay/core/infra/bus"
	"github.com/sdrelay/sdrelay/core/infra/config"
	"github.com/sdrelay/sdrelay/core/infra/logging"
	"github.com/sdrelay/sdrelay/core/infra/memory"
	"github.com/sdrelay/sdrelay/core/infra/metrics"
	"github.com/sdrelay/sdrelay/core/protocol/wire"
	"github.com/sdrelay/sdrelay/core/relay"
)

const (
	defaultWorkerID   = "worker-sd-relay-1"
	queueGroup        = "workers-sd-relay"
	workerPool        = "sd-relay"
	heartbeatInterval = 5 * time.Second
)

var workerID = resolveWorkerID(defaultWorkerID)

// Worker ties the bus, the controller, and the result store together.
type Worker struct {
	cfg        *config.Config
	bus        *bus.NatsBus
	store      memory.Store
	controller *relay.Controller
	prober     *relay.Prober
	metrics    metrics.Metrics

	activeJobs atomic.Int32
}

// New assembles a worker from configuration. The Redis result store is
// optional: without it every result travels inline on the bus.
func New(cfg *config.Config, b *bus.NatsBus, store memory.Store, m metrics.Metrics) (*Worker, error) {
	timeouts, err := config.LoadTimeouts(cfg.TimeoutConfigPath)
	if err != nil {
		logging.Warn("worker", "timeouts config unavailable, using defaults", "path", cfg.TimeoutConfigPath, "error", err)
	}
	if m == nil {
		m = metrics.Noop{}
	}

	prober := relay.NewProber(cfg.UpstreamURL, cfg.ReadinessPoll, cfg.ReadinessMaxWait)
	client := relay.NewClient(cfg.UpstreamURL, timeouts)
	helpers := relay.NewHelpers(timeouts)

	return &Worker{
		cfg:        cfg,
		bus:        b,
		store:      store,
		controller: relay.NewController(prober, client, helpers, m),
		prober:     prober,
		metrics:    m,
	}, nil
}

// Run starts the relay worker and blocks until SIGINT or SIGTERM.
func Run() error {
	buildinfo.Log("sd-relay-worker")
	cfg := config.Load()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsBus.Close()

	var store memory.Store
	if redisStore, err := memory.NewRedisStore(cfg.RedisURL); err != nil {
		logging.Warn("worker", "redis unavailable, results stay inline", "error", err)
	} else {
		store = redisStore
		defer redisStore.Close()
	}

	prom := metrics.NewProm("sdrelay")
	w, err := New(cfg, natsBus, store, prom)
	if err != nil {
		return err
	}

	if err := w.Subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("worker", "metrics server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()

	// Warm the readiness probe so the first job does not eat the cold start
	// alone. Failure here is fine; jobs re-enter the wait themselves.
	go func() {
		if _, err := w.prober.WaitReady(ctx); err != nil {
			logging.Warn("worker", "upstream not ready at startup", "error", err)
		}
	}()

	logging.Info("worker", "running, waiting for jobs", "worker_id", workerID, "upstream", cfg.UpstreamURL, "operations", relay.Operations())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("worker", "shutting down", "worker_id", workerID)
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
	return nil
}

// Subscribe attaches the queue-group and direct-delivery subscriptions.
func (w *Worker) Subscribe() error {
	if err := w.bus.Subscribe(wire.SubjectSubmit, queueGroup, w.handleEnvelope); err != nil {
		return err
	}
	if direct := bus.DirectSubject(workerID); direct != "" {
		if err := w.bus.Subscribe(direct, "", w.handleEnvelope); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleEnvelope(env *wire.Envelope) {
	req := env.JobRequest
	if req == nil {
		return
	}

	w.activeJobs.Add(1)
	defer w.activeJobs.Add(-1)

	logging.Info("worker", "received job", "job_id", req.JobID, "operation", req.Operation)

	res := w.execute(context.Background(), req)
	res.WorkerID = workerID

	w.offloadLargeOutput(res)

	response := &wire.Envelope{
		TraceID:   env.TraceID,
		SenderID:  workerID,
		JobResult: res,
	}
	if err := w.bus.Publish(wire.SubjectResult, response); err != nil {
		logging.Error("worker", "failed to publish result", "job_id", req.JobID, "error", err)
	}
}

// execute runs the controller with a recover guard: a panic fails the one job
// instead of killing the worker.
func (w *Worker) execute(ctx context.Context, req *wire.JobRequest) (res *wire.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("worker", "panic while processing job", "job_id", req.JobID, "panic", r)
			res = &wire.JobResult{
				JobID:  req.JobID,
				Status: wire.StatusError,
				Error:  &wire.ErrorInfo{Kind: wire.KindInternal, Message: fmt.Sprintf("panic: %v", r)},
			}
		}
	}()

	return w.controller.Process(ctx, relay.Job{
		ID:         req.JobID,
		Operation:  req.Operation,
		Input:      req.Input,
		ReceivedAt: req.ReceivedAt,
	})
}

// offloadLargeOutput moves oversized outputs (base64 images) into the result
// store and replaces them with a redis:// pointer. Offload failures keep the
// result inline rather than losing it.
func (w *Worker) offloadLargeOutput(res *wire.JobResult) {
	if w.store == nil || res == nil || len(res.Output) <= w.cfg.ResultInlineLimit {
		return
	}
	key := memory.MakeResultKey(res.JobID)
	if err := w.store.PutResult(context.Background(), key, res.Output); err != nil {
		logging.Warn("worker", "result offload failed, sending inline", "job_id", res.JobID, "bytes", len(res.Output), "error", err)
		return
	}
	res.ResultPtr = memory.PointerForKey(key)
	res.Output = nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := &wire.Heartbeat{
				WorkerID:   workerID,
				ActiveJobs: w.activeJobs.Load(),
				Ready:      w.prober.Ready(),
				Pool:       workerPool,
			}
			env := &wire.Envelope{
				TraceID:   "hb-" + workerID,
				SenderID:  workerID,
				Heartbeat: hb,
			}
			if err := w.bus.Publish(wire.SubjectHeartbeat, env); err != nil {
				logging.Warn("worker", "failed to publish heartbeat", "error", err)
			}
		}
	}
}

func resolveWorkerID(defaultID string) string {
	if v := os.Getenv("WORKER_ID"); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		if len(h) > 8 {
			h = h[len(h)-8:]
		}
		return fmt.Sprintf("%s-%s", defaultID, h)
	}
	return defaultID
}
