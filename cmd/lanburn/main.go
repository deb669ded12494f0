package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/kmarchuk/lanburn/internal/config"
	"github.com/kmarchuk/lanburn/internal/dashboard"
	"github.com/kmarchuk/lanburn/internal/engine"
	"github.com/kmarchuk/lanburn/internal/output"
	"github.com/kmarchuk/lanburn/internal/payload"
	"github.com/kmarchuk/lanburn/internal/stats"
	"github.com/kmarchuk/lanburn/internal/target"
	"github.com/kmarchuk/lanburn/internal/tracing"
)

const (
	progressInterval = time.Second
	pollInterval     = 200 * time.Millisecond
	tracingShutdown  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)

	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire instance lock %s: %w", cfg.LockFile, err)
		}
		if !locked {
			return fmt.Errorf("another instance holds the lock at %s", cfg.LockFile)
		}
		defer func() { _ = lock.Unlock() }()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), tracingShutdown)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	validator := target.New()
	validator.AllowPublic = cfg.AllowPublic

	eng := engine.New(engine.Options{
		Logger:      logger,
		Validator:   validator,
		Pool:        payload.NewPool(cfg.PayloadSize, cfg.BufferCount),
		GracePeriod: cfg.GracePeriod,
		Tracer:      tp.Tracer(),
	})

	if err := eng.Start(toRunConfig(cfg)); err != nil {
		return err
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(eng.Status, eng.LastResult, toRunInfo(cfg), cancel)
		if err != nil {
			eng.Stop()
			return err
		}
		dash.Start()
		defer dash.Stop()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(eng.Status, progressInterval, os.Stdout)
		progress.Start()
		defer progress.Stop()
	}

	snap := awaitRun(ctx, eng)

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(os.Stdout, snap); err != nil {
			return err
		}
	} else {
		output.PrintReport(os.Stdout, snap)
	}

	if snap.Failed > 0 && snap.Succeeded == 0 {
		return fmt.Errorf("all %d operations failed", snap.Failed)
	}
	return nil
}

// awaitRun blocks until the run self-stops or ctx is cancelled by a
// signal or the dashboard, then returns the final snapshot.
func awaitRun(ctx context.Context, eng *engine.Engine) stats.Snapshot {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return eng.Stop()
		case <-ticker.C:
			if eng.State() == engine.StateIdle {
				return eng.LastResult()
			}
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	// The dashboard owns the terminal; JSON mode keeps stdout clean.
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if cfg.Dashboard {
		out = io.Discard
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(level)
}

func toRunConfig(cfg *config.Config) engine.RunConfig {
	return engine.RunConfig{
		Host:            cfg.TargetHost,
		Port:            cfg.TargetPort,
		Protocol:        cfg.Protocol,
		Concurrency:     cfg.Concurrency,
		Rate:            cfg.Rate,
		Duration:        cfg.Duration,
		MaxOperations:   cfg.MaxOperations,
		Timeout:         cfg.Timeout,
		SlowConnections: cfg.SlowConnections,
		SlowInterval:    cfg.SlowInterval,
	}
}

func toRunInfo(cfg *config.Config) dashboard.RunInfo {
	return dashboard.RunInfo{
		Target:        cfg.TargetHost,
		Port:          cfg.TargetPort,
		Protocol:      string(cfg.Protocol),
		Concurrency:   cfg.Concurrency,
		Rate:          cfg.Rate,
		Duration:      cfg.Duration,
		MaxOperations: cfg.MaxOperations,
		ConfigFile:    cfg.ConfigFile,
	}
}
