package engine

import (
	"context"
	"time"

	"github.com/kmarchuk/lanburn/internal/wsclient"
)

// runWebSocketWorker performs dial/send/close cycles over WebSocket;
// each cycle is one operation.
func runWebSocketWorker(ctx context.Context, id int, rt *runState) {
	url := "ws://" + rt.addr() + "/"

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
		sess, err := wsclient.Dial(opCtx, wsclient.Config{
			URL:              url,
			HandshakeTimeout: rt.cfg.Timeout,
			WriteTimeout:     rt.cfg.Timeout,
		})
		if err != nil {
			rt.endOp(span, err)
			if ctx.Err() != nil {
				return
			}
			rt.stats.RecordFailure(time.Since(start), err)
			continue
		}

		buf := rt.pool.Next()
		err = sess.SendBinary(buf)
		_ = sess.Close()
		rt.endOp(span, err)
		if err != nil {
			rt.stats.RecordFailure(time.Since(start), err)
			continue
		}
		rt.stats.RecordSuccess(len(buf), time.Since(start))
	}
}
