// Package engine coordinates traffic-generation runs: it gates the
// target, spawns protocol workers against the shared payload pool and
// stats aggregator, and enforces duration and operation caps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kmarchuk/lanburn/internal/config"
	"github.com/kmarchuk/lanburn/internal/httpclient"
	"github.com/kmarchuk/lanburn/internal/payload"
	"github.com/kmarchuk/lanburn/internal/stats"
	"github.com/kmarchuk/lanburn/internal/target"
	"github.com/kmarchuk/lanburn/internal/tracing"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// validateTimeout bounds target resolution before a run starts.
const validateTimeout = 5 * time.Second

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// RunConfig describes one run. Immutable once the run starts.
type RunConfig struct {
	Host            string
	Port            int
	Protocol        config.Protocol
	Concurrency     int
	Rate            int           // operations per second, 0 = unlimited
	Duration        time.Duration // 0 = unbounded (cap-only run)
	MaxOperations   int64         // 0 = unbounded
	Timeout         time.Duration
	SlowConnections int
	SlowInterval    time.Duration
}

func (c *RunConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = config.DefaultTimeout
	}
	if c.SlowConnections <= 0 {
		c.SlowConnections = config.DefaultSlowConnections
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = config.DefaultSlowInterval
	}
}

// Options configure an Engine.
type Options struct {
	Logger      zerolog.Logger
	Validator   *target.Validator // nil means safe mode
	Pool        *payload.Pool     // nil means default-sized pool
	GracePeriod time.Duration     // shutdown wait, defaults to 5s
	Tracer      trace.Tracer      // nil disables spans
}

// Status is the externally visible run state plus a config echo.
type Status struct {
	Running         bool            `json:"running"`
	RunID           string          `json:"run_id,omitempty"`
	Target          string          `json:"target,omitempty"`
	Port            int             `json:"port,omitempty"`
	Protocol        config.Protocol `json:"protocol,omitempty"`
	Progress        int64           `json:"progress"`
	Max             int64           `json:"max"`
	Succeeded       int64           `json:"succeeded"`
	Failed          int64           `json:"failed"`
	Rate            float64         `json:"rate"`
	DurationSeconds float64         `json:"duration_seconds"`
	ActiveWorkers   int             `json:"active_workers"`
	Concurrency     int             `json:"concurrency,omitempty"`
}

// Engine runs at most one traffic-generation run at a time. The payload
// pool outlives runs; stats and the stop signal are per run.
type Engine struct {
	log       zerolog.Logger
	validator *target.Validator
	pool      *payload.Pool
	grace     time.Duration
	tracer    trace.Tracer

	mu      sync.Mutex
	state   State
	runID   ulid.ULID
	cfg     RunConfig
	agg     *stats.Aggregator
	cancel  context.CancelFunc
	done    chan struct{}
	runSpan trace.Span
}

// New constructs an idle Engine.
func New(opt Options) *Engine {
	if opt.Validator == nil {
		opt.Validator = target.New()
	}
	if opt.Pool == nil {
		opt.Pool = payload.NewPool(0, 0)
	}
	if opt.GracePeriod <= 0 {
		opt.GracePeriod = config.DefaultGracePeriod
	}
	return &Engine{
		log:       opt.Logger,
		validator: opt.Validator,
		pool:      opt.Pool,
		grace:     opt.GracePeriod,
		tracer:    opt.Tracer,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start validates the target and spawns cfg.Concurrency workers. It
// returns ErrAlreadyRunning while a run is in progress and
// target.ErrTargetRejected (wrapped) when the safety gate refuses the
// target; in both cases no engine state changes.
func (e *Engine) Start(cfg RunConfig) error {
	cfg.normalize()

	if e.State() != StateIdle {
		return ErrAlreadyRunning
	}

	vctx, vcancel := context.WithTimeout(context.Background(), validateTimeout)
	defer vcancel()
	if err := e.validator.Validate(vctx, cfg.Host, cfg.Port); err != nil {
		return err
	}

	workerFn, ok := workerTable[cfg.Protocol]
	if !ok {
		return fmt.Errorf("no worker for protocol %q", cfg.Protocol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrAlreadyRunning
	}

	e.runID = ulid.Make()
	e.cfg = cfg
	// A fresh aggregator per run: stragglers abandoned after the grace
	// period keep writing into the old one, never into the next run's.
	e.agg = stats.NewAggregator()
	e.agg.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	e.state = StateRunning

	log := e.log.With().
		Str("run_id", e.runID.String()).
		Str("protocol", string(cfg.Protocol)).
		Logger()

	rt := &runState{
		cfg:    cfg,
		stats:  e.agg,
		pool:   e.pool,
		log:    log,
		tracer: e.tracer,
	}
	if cfg.Rate > 0 {
		rt.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Rate)
	}
	if cfg.Protocol == config.ProtocolHTTP {
		rt.client = httpclient.NewClient(cfg.Timeout)
	}
	if e.tracer != nil {
		e.runSpan = tracing.StartRunSpan(context.Background(), e.tracer,
			e.runID.String(), string(cfg.Protocol), rt.addr())
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.agg.WorkerStarted()
			defer e.agg.WorkerDone()
			defer func() {
				// An unexpected fault terminates this worker alone.
				if r := recover(); r != nil {
					log.Warn().Interface("panic", r).Int("worker", id).
						Msg("worker terminated by unexpected fault")
				}
			}()
			workerFn(ctx, id, rt)
		}(i)
	}

	go func() {
		wg.Wait()
		close(done)
		e.completeRun(done)
	}()
	go e.watchDeadline(ctx, cancel, cfg.Duration, done, log)
	go e.watchOpCap(ctx, cancel, cfg.MaxOperations, e.agg, done, log)

	log.Info().
		Str("target", cfg.Host).
		Int("port", cfg.Port).
		Int("concurrency", cfg.Concurrency).
		Dur("duration", cfg.Duration).
		Int64("max_operations", cfg.MaxOperations).
		Msg("run started")
	return nil
}

// opCapPollInterval bounds how long a run outlives its operation cap.
const opCapPollInterval = 50 * time.Millisecond

// watchDeadline signals stop once the run's duration elapses.
func (e *Engine) watchDeadline(ctx context.Context, cancel context.CancelFunc, duration time.Duration, done chan struct{}, log zerolog.Logger) {
	if duration <= 0 {
		return
	}
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
		log.Info().Dur("duration", duration).Msg("run duration elapsed")
		cancel()
	case <-ctx.Done():
	case <-done:
	}
}

// watchOpCap signals stop once recorded attempts reach the operation
// cap. Short-cycle workers exit on their own when reservations run out,
// but workers that hold resources open (the slow protocol) rely on this
// cancellation to release them.
func (e *Engine) watchOpCap(ctx context.Context, cancel context.CancelFunc, max int64, agg *stats.Aggregator, done chan struct{}, log zerolog.Logger) {
	if max <= 0 {
		return
	}
	t := time.NewTicker(opCapPollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if agg.Snapshot().Attempted >= max {
				log.Info().Int64("max_operations", max).Msg("operation cap reached")
				cancel()
				return
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

// completeRun finalizes a run whose workers have all exited, covering
// self-stop on duration or operation cap without an explicit Stop call.
func (e *Engine) completeRun(done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != done || e.state == StateIdle {
		return
	}
	e.finalizeLocked()
}

func (e *Engine) finalizeLocked() {
	e.cancel()
	e.agg.Finish()
	e.state = StateIdle

	snap := e.agg.Snapshot()
	if e.runSpan != nil {
		tracing.EndRunSpan(e.runSpan, snap.Attempted, snap.Succeeded, snap.Failed, snap.Bytes)
		e.runSpan = nil
	}
	e.log.Info().
		Str("run_id", e.runID.String()).
		Int64("attempted", snap.Attempted).
		Int64("succeeded", snap.Succeeded).
		Int64("failed", snap.Failed).
		Int64("bytes", snap.Bytes).
		Float64("rate", snap.Rate).
		Msg("run finished")
}

// Stop signals the current run to stop, waits up to the grace period for
// workers to drain, and returns the final snapshot. Stragglers are
// abandoned, not awaited indefinitely. On an idle engine it returns a
// zero snapshot.
func (e *Engine) Stop() stats.Snapshot {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return stats.Snapshot{}
	}
	e.state = StateStopping
	cancel, done, runID := e.cancel, e.done, e.runID
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(e.grace):
		e.log.Warn().
			Str("run_id", runID.String()).
			Dur("grace", e.grace).
			Msg("workers did not drain within grace period; abandoning stragglers")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle && e.done == done {
		e.finalizeLocked()
	}
	return e.agg.Snapshot()
}

// Status reports the current run's counters and config echo. Safe to
// call at any time; when idle it returns a zeroed Status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return Status{}
	}
	snap := e.agg.Snapshot()
	return Status{
		Running:         true,
		RunID:           e.runID.String(),
		Target:          e.cfg.Host,
		Port:            e.cfg.Port,
		Protocol:        e.cfg.Protocol,
		Progress:        snap.Attempted,
		Max:             e.cfg.MaxOperations,
		Succeeded:       snap.Succeeded,
		Failed:          snap.Failed,
		Rate:            snap.Rate,
		DurationSeconds: snap.DurationSecs,
		ActiveWorkers:   snap.ActiveWorkers,
		Concurrency:     e.cfg.Concurrency,
	}
}

// LastResult returns the most recent run's final snapshot, or a zero
// snapshot if the engine has never run.
func (e *Engine) LastResult() stats.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.agg == nil {
		return stats.Snapshot{}
	}
	return e.agg.Snapshot()
}
