package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"time"
)

// udpWriteDeadline bounds each datagram write; hitting it means the
// socket's send buffer is full, which is transient, not a failure.
const udpWriteDeadline = 10 * time.Millisecond

// runUDPWorker drives a datagram flood: one connected UDP socket per
// worker, one payload per iteration. UDP has no delivery acknowledgment,
// so failures here are purely local send-side errors.
func runUDPWorker(ctx context.Context, id int, rt *runState) {
	conn, err := net.Dial("udp", rt.addr())
	if err != nil {
		rt.log.Warn().Err(err).Int("worker", id).Msg("udp socket setup failed")
		return
	}
	defer conn.Close()

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

		buf := rt.pool.Next()
		start := time.Now()
		n, err := sendDatagram(ctx, conn, buf)
		switch {
		case err == nil:
			rt.stats.RecordSuccess(n, time.Since(start))
		case ctx.Err() != nil:
			return
		default:
			rt.stats.RecordFailure(time.Since(start), err)
		}
	}
}

// sendDatagram writes buf, retrying the transient send-buffer-full
// condition within the same operation until ctx is cancelled. Retries
// yield to the scheduler and count neither a failure nor a fresh
// operation against the cap.
func sendDatagram(ctx context.Context, conn net.Conn, buf []byte) (int, error) {
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(udpWriteDeadline))
		n, err := conn.Write(buf)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			runtime.Gosched()
			continue
		}
		return n, err
	}
}
