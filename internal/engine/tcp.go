package engine

import (
	"context"
	"net"
	"time"
)

// runTCPWorker performs full connect/write/close cycles; each cycle is
// one operation. Failed attempts retry immediately, bounded only by the
// per-attempt timeout.
func runTCPWorker(ctx context.Context, id int, rt *runState) {
	dialer := &net.Dialer{Timeout: rt.cfg.Timeout}

	for {
		if ctx.Err() != nil {
			return
		}
		if !rt.reserveOp() {
			return
		}
		if rt.pace(ctx) != nil {
			return
		}

		opCtx, span := rt.startOp(ctx)
		start := time.Now()
		conn, err := dialer.DialContext(opCtx, "tcp", rt.addr())
		if err != nil {
			rt.endOp(span, err)
			if ctx.Err() != nil {
				return
			}
			rt.stats.RecordFailure(time.Since(start), err)
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(rt.cfg.Timeout))
		n, err := conn.Write(rt.pool.Next())
		_ = conn.Close()
		rt.endOp(span, err)
		if err != nil {
			rt.stats.RecordFailure(time.Since(start), err)
			continue
		}
		rt.stats.RecordSuccess(n, time.Since(start))
	}
}
