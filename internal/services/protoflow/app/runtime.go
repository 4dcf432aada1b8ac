package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/platform/timeouts"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/schedule"
	"github.com/louisbranch/protoflow/internal/services/protoflow/snapshot"
	"github.com/louisbranch/protoflow/internal/services/protoflow/storage"
)

const (
	instrumentationName = "github.com/louisbranch/protoflow/internal/services/protoflow/app"

	defaultTick             = 10 * time.Millisecond
	defaultSnapshotInterval = 60 * time.Second
	queueSize               = 256
)

// ErrStopped is returned by Do once the run loop has exited.
var ErrStopped = errors.New(errors.CodeUnavailable, "runtime is not running")

// RuntimeConfig wires a Runtime.
type RuntimeConfig struct {
	Catalog *plugin.Catalog
	// Store persists snapshots. Nil disables persistence.
	Store            storage.Store
	Logger           *slog.Logger
	Tick             time.Duration
	SnapshotInterval time.Duration
	Clock            func() time.Time
	NewID            func() string
}

// Runtime owns the registry, the scheduler and every UI tree. Only the run
// loop goroutine touches them once Run has started; other goroutines go
// through Do.
type Runtime struct {
	registry  *instance.Registry
	scheduler *schedule.Scheduler
	codec     *snapshot.Codec
	store     storage.Store
	logger    *slog.Logger
	clock     func() time.Time

	tick             time.Duration
	snapshotInterval time.Duration

	queue             chan func()
	snapshotRequested atomic.Bool
	started           atomic.Bool
	done              chan struct{}
	stopOnce          sync.Once
	liveInstances     atomic.Int64

	tracer        trace.Tracer
	tickDuration  metric.Float64Histogram
	snapshots     metric.Int64Counter
	restoreIssues metric.Int64Counter
	commandsRun   metric.Int64Counter
}

// NewRuntime validates cfg and builds an idle runtime.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("plugin catalog is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	scheduler := schedule.New(logger)
	registry, err := instance.NewRegistry(instance.Config{
		Catalog:   cfg.Catalog,
		Scheduler: scheduler,
		Logger:    logger,
		Clock:     clock,
		NewID:     cfg.NewID,
	})
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		registry:         registry,
		scheduler:        scheduler,
		codec:            snapshot.NewCodec(registry, logger),
		store:            cfg.Store,
		logger:           logger,
		clock:            clock,
		tick:             cfg.Tick,
		snapshotInterval: cfg.SnapshotInterval,
		queue:            make(chan func(), queueSize),
		done:             make(chan struct{}),
		tracer:           otel.Tracer(instrumentationName),
	}
	if r.tick <= 0 {
		r.tick = defaultTick
	}
	if r.snapshotInterval <= 0 {
		r.snapshotInterval = defaultSnapshotInterval
	}
	r.initMetrics()
	return r, nil
}

func (r *Runtime) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if r.tickDuration, err = meter.Float64Histogram("protoflow.runtime.tick.duration",
		metric.WithDescription("Time spent in one run loop tick."), metric.WithUnit("ms")); err != nil {
		r.logger.Warn("create metric", "name", "protoflow.runtime.tick.duration", "error", err)
	}
	if r.snapshots, err = meter.Int64Counter("protoflow.runtime.snapshots",
		metric.WithDescription("Snapshots written, by outcome.")); err != nil {
		r.logger.Warn("create metric", "name", "protoflow.runtime.snapshots", "error", err)
	}
	if r.restoreIssues, err = meter.Int64Counter("protoflow.runtime.restore.warnings",
		metric.WithDescription("Fields, elements and records skipped while restoring.")); err != nil {
		r.logger.Warn("create metric", "name", "protoflow.runtime.restore.warnings", "error", err)
	}
	if r.commandsRun, err = meter.Int64Counter("protoflow.runtime.commands",
		metric.WithDescription("Closures executed on the run loop.")); err != nil {
		r.logger.Warn("create metric", "name", "protoflow.runtime.commands", "error", err)
	}
	if _, err = meter.Int64ObservableGauge("protoflow.runtime.instances",
		metric.WithDescription("Live instances."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.liveInstances.Load())
			return nil
		})); err != nil {
		r.logger.Warn("create metric", "name", "protoflow.runtime.instances", "error", err)
	}
}

// Registry returns the instance registry. Outside the run loop it may only
// be used before Run starts.
func (r *Runtime) Registry() *instance.Registry { return r.registry }

// SetPublisher connects the registry to client sessions. Call before Run.
func (r *Runtime) SetPublisher(p instance.Publisher) { r.registry.SetPublisher(p) }

// Start restores the persisted snapshot and opens every System type that
// is not live yet. It runs on the caller's goroutine and must precede Run.
func (r *Runtime) Start(ctx context.Context) error {
	if r.started.Load() {
		return errors.New(errors.CodeInitOrder, "runtime already running")
	}
	if _, err := r.Restore(ctx); err != nil {
		r.logger.Error("restore snapshot", "error", err)
	}
	if err := r.registry.OpenSystems(); err != nil {
		r.logger.Error("open systems", "error", err)
	}
	r.registry.Flush()
	r.liveInstances.Store(int64(r.registry.Len()))
	return nil
}

// Restore loads the stored snapshot into the registry. A missing snapshot
// is not an error.
func (r *Runtime) Restore(ctx context.Context) (snapshot.LoadResult, error) {
	if r.store == nil {
		return snapshot.LoadResult{}, nil
	}
	ctx, span := r.tracer.Start(ctx, "runtime.restore")
	defer span.End()

	doc, err := r.store.Get(ctx, snapshot.Key)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			r.logger.Info("no snapshot to restore")
			return snapshot.LoadResult{}, nil
		}
		span.RecordError(err)
		return snapshot.LoadResult{}, fmt.Errorf("read snapshot: %w", err)
	}
	result, err := r.codec.Load(doc)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	r.restoreIssues.Add(ctx, int64(len(result.Warnings)))
	span.SetAttributes(
		attribute.Int("protoflow.restored", result.Restored),
		attribute.Int("protoflow.skipped", result.Skipped),
	)
	r.logger.Info("snapshot restored", "restored", result.Restored, "skipped", result.Skipped, "warnings", len(result.Warnings))
	return result, nil
}

// Do runs fn on the run loop and waits for it to finish. A panic in fn is
// recovered and returned as an error.
func (r *Runtime) Do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var panicErr error
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		defer func() {
			if recovered := recover(); recovered != nil {
				panicErr = errors.New(errors.CodePluginHook, fmt.Sprintf("command panicked: %v", recovered))
			}
		}()
		fn()
	}

	select {
	case r.queue <- job:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return panicErr
	case <-r.done:
		// The loop may have drained the job while stopping.
		select {
		case <-finished:
			return panicErr
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestSnapshot asks the run loop to snapshot after its next step.
func (r *Runtime) RequestSnapshot() {
	r.snapshotRequested.Store(true)
}

// Done is closed when Run returns.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Run drives the loop until ctx ends, then writes a final snapshot.
func (r *Runtime) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New(errors.CodeInitOrder, "runtime already running")
	}
	defer r.stopOnce.Do(func() { close(r.done) })

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	defer stopSnapshots()
	go r.requestSnapshots(snapshotCtx)

	r.logger.Info("runtime started", "tick", r.tick, "snapshot_interval", r.snapshotInterval, "instances", r.registry.Len())
	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.finalSnapshot()
			r.logger.Info("runtime stopped")
			return nil
		case job := <-r.queue:
			r.runJob(job)
			r.drain()
			r.afterStep()
		case <-ticker.C:
			r.drain()
			r.step(r.clock())
			r.afterStep()
		}
	}
}

func (r *Runtime) requestSnapshots(ctx context.Context) {
	ticker := time.NewTicker(r.snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RequestSnapshot()
		}
	}
}

func (r *Runtime) drain() {
	for {
		select {
		case job := <-r.queue:
			r.runJob(job)
		default:
			return
		}
	}
}

func (r *Runtime) runJob(job func()) {
	job()
	r.commandsRun.Add(context.Background(), 1)
}

// step fires due scheduled events, then every instance's tick hook.
func (r *Runtime) step(now time.Time) {
	start := time.Now()
	r.scheduler.Tick(now)
	r.registry.Tick(now)
	r.tickDuration.Record(context.Background(), float64(time.Since(start).Microseconds())/1000)
}

func (r *Runtime) afterStep() {
	r.registry.Flush()
	if r.registry.LiveSetChanged() {
		r.RequestSnapshot()
	}
	r.liveInstances.Store(int64(r.registry.Len()))
	if r.snapshotRequested.CompareAndSwap(true, false) {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Command)
		defer cancel()
		if err := r.Snapshot(ctx); err != nil {
			r.logger.Error("periodic snapshot failed", "error", err)
		}
	}
}

func (r *Runtime) finalSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.FinalSnapshot)
	defer cancel()
	if err := r.Snapshot(ctx); err != nil {
		r.logger.Error("final snapshot failed", "error", err)
	}
}

// Snapshot writes the whole registry to the store. It must run on the loop
// goroutine, or before Run starts.
func (r *Runtime) Snapshot(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "runtime.snapshot")
	defer span.End()

	outcome := "ok"
	defer func() {
		r.snapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	doc, err := r.codec.Encode()
	if err != nil {
		outcome = "encode_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.store.Put(ctx, snapshot.Key, doc); err != nil {
		outcome = "store_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("store snapshot: %w", err)
	}
	span.SetAttributes(attribute.Int("protoflow.snapshot.bytes", len(doc)))
	r.logger.Debug("snapshot written", "bytes", len(doc), "instances", r.registry.Len())
	return nil
}
