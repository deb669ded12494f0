package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/kmarchuk/lanburn/internal/engine"
)

// ProgressReporter writes a one-line status update at a fixed interval.
type ProgressReporter struct {
	status   func() engine.Status
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter polling status at the
// given interval.
func NewProgressReporter(status func() engine.Status, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		status:   status,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and waits for the update loop to exit.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			st := p.status()
			if !st.Running {
				continue
			}
			line := fmt.Sprintf("\rOps: %d | Succeeded: %d | Failed: %d | Rate: %.1f/s | Workers: %d",
				st.Progress, st.Succeeded, st.Failed, st.Rate, st.ActiveWorkers)
			if st.Max > 0 {
				line += fmt.Sprintf(" | Cap: %d/%d", st.Progress, st.Max)
			}
			fmt.Fprint(p.writer, line)
		case <-p.done:
			return
		}
	}
}
