package engine

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kmarchuk/lanburn/internal/config"
	"github.com/kmarchuk/lanburn/internal/payload"
	"github.com/kmarchuk/lanburn/internal/stats"
	"github.com/kmarchuk/lanburn/internal/tracing"
)

// workerFunc drives one worker loop for a single protocol. Workers poll
// ctx at least once per iteration, own every socket they open, and
// release it on every exit path.
type workerFunc func(ctx context.Context, id int, rt *runState)

var workerTable = map[config.Protocol]workerFunc{
	config.ProtocolUDP:       runUDPWorker,
	config.ProtocolTCP:       runTCPWorker,
	config.ProtocolHTTP:      runHTTPWorker,
	config.ProtocolSlow:      runSlowWorker,
	config.ProtocolWebSocket: runWebSocketWorker,
}

// runState is the per-run environment shared by all workers of one run.
type runState struct {
	cfg      RunConfig
	stats    *stats.Aggregator
	pool     *payload.Pool
	limiter  *rate.Limiter // nil means unlimited
	client   *http.Client  // set for the http protocol only
	log      zerolog.Logger
	tracer   trace.Tracer // nil disables spans
	reserved int64
}

// reserveOp claims one operation slot against the run's cap. Workers call
// it before each operation, bounding cap overshoot to at most one
// in-flight operation per worker.
func (rt *runState) reserveOp() bool {
	if rt.cfg.MaxOperations <= 0 {
		return true
	}
	return atomic.AddInt64(&rt.reserved, 1) <= rt.cfg.MaxOperations
}

// pace blocks until the shared rate limiter admits the next operation.
func (rt *runState) pace(ctx context.Context) error {
	if rt.limiter == nil {
		return nil
	}
	return rt.limiter.Wait(ctx)
}

func (rt *runState) addr() string {
	return net.JoinHostPort(rt.cfg.Host, strconv.Itoa(rt.cfg.Port))
}

func (rt *runState) startOp(ctx context.Context) (context.Context, trace.Span) {
	if rt.tracer == nil {
		return ctx, nil
	}
	return tracing.StartOpSpan(ctx, rt.tracer, string(rt.cfg.Protocol))
}

func (rt *runState) endOp(span trace.Span, err error) {
	if span != nil {
		tracing.EndSpan(span, err)
	}
}
