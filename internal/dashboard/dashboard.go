// Package dashboard renders a live terminal UI for a running traffic run.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/kmarchuk/lanburn/internal/engine"
	"github.com/kmarchuk/lanburn/internal/stats"
)

// RunInfo holds run parameters for display.
type RunInfo struct {
	Target        string
	Port          int
	Protocol      string
	Concurrency   int
	Rate          int
	Duration      time.Duration
	MaxOperations int64
	ConfigFile    string
}

// Dashboard polls the engine and renders its counters until stopped.
type Dashboard struct {
	status       func() engine.Status
	snapshot     func() stats.Snapshot
	info         RunInfo
	shutdownFunc func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopOnce sync.Once

	grid        *ui.Grid
	summaryPara *widgets.Paragraph
	countersPar *widgets.Paragraph
	latencyPara *widgets.Paragraph
	opsGauge    *widgets.Gauge
	rateSpark   *widgets.SparklineGroup
	errorList   *widgets.List
	rateHistory []float64
	startTime   time.Time
}

// New creates a Dashboard. It initializes termui; callers must invoke Stop
// to restore the terminal.
func New(status func() engine.Status, snapshot func() stats.Snapshot, info RunInfo, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		status:       status,
		snapshot:     snapshot,
		info:         info,
		shutdownFunc: shutdownFunc,
		ctx:          ctx,
		cancel:       cancel,
		rateHistory:  make([]float64, 0, 100),
		startTime:    time.Now(),
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.countersPar = widgets.NewParagraph()
	d.countersPar.Title = "Counters"
	d.countersPar.Text = "Waiting for data..."
	d.countersPar.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency"
	d.latencyPara.Text = "Mean: 0ms\nP50: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.opsGauge = widgets.NewGauge()
	d.opsGauge.Title = "Progress"
	d.opsGauge.Percent = 0
	d.opsGauge.BarColor = ui.ColorBlue
	d.opsGauge.BorderStyle.Fg = ui.ColorCyan
	d.opsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	spark := widgets.NewSparkline()
	spark.Title = "Ops/sec"
	spark.LineColor = ui.ColorGreen
	spark.Data = []float64{0}
	d.rateSpark = widgets.NewSparklineGroup(spark)
	d.rateSpark.Title = "Throughput"
	d.rateSpark.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Errors"
	d.errorList.Rows = []string{"No failures"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.18,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(1.0, d.opsGauge),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.65, d.rateSpark),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.5, d.countersPar),
			ui.NewCol(0.5, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal. Safe to call
// more than once.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		ui.Close()
		// Give the terminal time to restore
		time.Sleep(100 * time.Millisecond)
	})
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Wait for Stop() to cancel the context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data from the engine.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.status()
	snap := d.snapshot()
	elapsed := time.Since(d.startTime)

	d.rateHistory = append(d.rateHistory, st.Rate)
	if len(d.rateHistory) > 100 {
		d.rateHistory = d.rateHistory[1:]
	}
	d.rateSpark.Sparklines[0].Data = d.rateHistory
	d.rateSpark.Title = fmt.Sprintf("Throughput | Current: %.1f ops/s", st.Rate)

	d.opsGauge.Percent = d.progressPercent(st, elapsed)
	d.opsGauge.Label = d.progressLabel(st, elapsed)

	successRate := 0.0
	if st.Progress > 0 {
		successRate = (float64(st.Succeeded) / float64(st.Progress)) * 100
	}
	d.summaryPara.Text = fmt.Sprintf(
		"Target: %s:%d (%s)\n%s\nElapsed: %s | Ops: %d | Success Rate: %.1f%%",
		d.info.Target,
		d.info.Port,
		d.info.Protocol,
		d.formatRunParams(),
		elapsed.Round(time.Second),
		st.Progress,
		successRate,
	)

	d.countersPar.Text = fmt.Sprintf(
		"Attempted:      %d\nSucceeded:      %d\nFailed:         %d\nBytes Sent:     %d\nActive Workers: %d\nOps/sec:        %.2f",
		st.Progress,
		st.Succeeded,
		st.Failed,
		snap.Bytes,
		st.ActiveWorkers,
		st.Rate,
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Mean: %.2fms\nP50:  %.2fms\nP99:  %.2fms",
		snap.MeanLatencyMs,
		snap.P50LatencyMs,
		snap.P99LatencyMs,
	)

	d.errorList.Rows = formatErrorRows(snap.Errors)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

// progressPercent maps the run's dominant bound (op cap, then duration)
// onto the gauge; unbounded runs show throughput relative to 100 ops/s.
func (d *Dashboard) progressPercent(st engine.Status, elapsed time.Duration) int {
	var pct float64
	switch {
	case st.Max > 0:
		pct = float64(st.Progress) / float64(st.Max) * 100
	case d.info.Duration > 0:
		pct = float64(elapsed) / float64(d.info.Duration) * 100
	default:
		maxRate := 100.0
		if st.Rate > maxRate {
			maxRate = st.Rate
		}
		pct = st.Rate / maxRate * 100
	}
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return int(pct)
}

func (d *Dashboard) progressLabel(st engine.Status, elapsed time.Duration) string {
	switch {
	case st.Max > 0:
		return fmt.Sprintf("%d / %d ops", st.Progress, st.Max)
	case d.info.Duration > 0:
		return fmt.Sprintf("%s / %s", elapsed.Round(time.Second), d.info.Duration)
	default:
		return fmt.Sprintf("%.1f ops/s", st.Rate)
	}
}

func formatErrorRows(errs map[string]int) []string {
	if len(errs) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	types := make([]string, 0, len(errs))
	for t := range errs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if errs[types[i]] != errs[types[j]] {
			return errs[types[i]] > errs[types[j]]
		}
		return types[i] < types[j]
	})
	if len(types) > 10 {
		types = types[:10]
	}
	rows := make([]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", t, errs[t]))
	}
	return rows
}

func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.info.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", d.info.Concurrency))
	}
	if d.info.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", d.info.Rate))
	} else {
		parts = append(parts, "Rate: unlimited")
	}
	if d.info.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.info.Duration))
	}
	if d.info.MaxOperations > 0 {
		parts = append(parts, fmt.Sprintf("Max Ops: %d", d.info.MaxOperations))
	}
	if d.info.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.info.ConfigFile))
	}
	return strings.Join(parts, " | ")
}
