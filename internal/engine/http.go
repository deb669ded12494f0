package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// statusError marks an HTTP response with status >= 400 as a failed
// operation.
type statusError int

func (e statusError) Error() string { return fmt.Sprintf("http status %d", int(e)) }

// runHTTPWorker issues GET requests over the run's pooled client; each
// request is one operation. Status below 400 is success.
func runHTTPWorker(ctx context.Context, id int, rt *runState) {
	url := "http://" + rt.addr() + "/"

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
		req, err := http.NewRequestWithContext(opCtx, http.MethodGet, url, nil)
		if err != nil {
			rt.endOp(span, err)
			rt.stats.RecordFailure(time.Since(start), err)
			continue
		}
		resp, err := rt.client.Do(req)
		if err != nil {
			rt.endOp(span, err)
			if ctx.Err() != nil {
				return
			}
			rt.stats.RecordFailure(time.Since(start), err)
			continue
		}

		n, _ := io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		latency := time.Since(start)
		if resp.StatusCode >= http.StatusBadRequest {
			statusErr := statusError(resp.StatusCode)
			rt.endOp(span, statusErr)
			rt.stats.RecordFailure(latency, statusErr)
			continue
		}
		rt.endOp(span, nil)
		rt.stats.RecordSuccess(int(n), latency)
	}
}
