package engine_test

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kmarchuk/lanburn/internal/config"
	"github.com/kmarchuk/lanburn/internal/engine"
	"github.com/kmarchuk/lanburn/internal/payload"
	"github.com/kmarchuk/lanburn/internal/target"
)

func newEngine() *engine.Engine {
	return engine.New(engine.Options{
		Logger:      zerolog.Nop(),
		Pool:        payload.NewPool(64, 16),
		GracePeriod: 2 * time.Second,
	})
}

// newUDPSink opens a loopback UDP listener that discards everything.
func newUDPSink(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	go func() {
		buf := make([]byte, 2048)
		for {
			if _, _, err := pc.ReadFrom(buf); err != nil {
				return
			}
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

// newTCPSink opens a loopback TCP listener that accepts and discards.
func newTCPSink(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 2048)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func hostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestStartRejectsPublicTarget(t *testing.T) {
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        "8.8.8.8",
		Port:        53,
		Protocol:    config.ProtocolUDP,
		Concurrency: 2,
		Duration:    time.Second,
	})
	if !errors.Is(err, target.ErrTargetRejected) {
		t.Fatalf("expected ErrTargetRejected, got %v", err)
	}
	if e.Status().Running {
		t.Fatal("expected engine to stay idle after rejected start")
	}
	if e.State() != engine.StateIdle {
		t.Fatalf("expected idle state, got %s", e.State())
	}
}

func TestStartWhileRunningReturnsError(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	cfg := engine.RunConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Protocol:    config.ProtocolUDP,
		Concurrency: 2,
		Rate:        100,
		Duration:    5 * time.Second,
	}
	if err := e.Start(cfg); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer e.Stop()

	second := cfg
	second.Port = port + 1
	if err := e.Start(second); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := e.Status().Port; got != port {
		t.Fatalf("expected original config untouched, status port %d", got)
	}
}

func TestStatusReportsActiveWorkers(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Protocol:    config.ProtocolUDP,
		Concurrency: 4,
		Rate:        100,
		Duration:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return e.Status().ActiveWorkers == 4
	})

	st := e.Status()
	if !st.Running {
		t.Fatal("expected running status")
	}
	if st.Target != "127.0.0.1" || st.Port != port {
		t.Fatalf("config echo mismatch: %s:%d", st.Target, st.Port)
	}
	if st.RunID == "" {
		t.Fatal("expected run id in status")
	}
}

func TestSnapshotInvariantDuringRun(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Protocol:    config.ProtocolUDP,
		Concurrency: 4,
		Duration:    time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		st := e.Status()
		if st.Progress != st.Succeeded+st.Failed {
			t.Fatalf("invariant broken: progress=%d succeeded=%d failed=%d",
				st.Progress, st.Succeeded, st.Failed)
		}
		if st.Rate < 0 {
			t.Fatalf("negative rate %f", st.Rate)
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap := e.Stop()
	if snap.Attempted != snap.Succeeded+snap.Failed {
		t.Fatalf("final invariant broken: %+v", snap)
	}
}

func TestDurationSelfStops(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Protocol:    config.ProtocolUDP,
		Concurrency: 2,
		Rate:        200,
		Duration:    200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return e.State() == engine.StateIdle
	})
	if e.Status().Running {
		t.Fatal("expected status running=false after self-stop")
	}
	if snap := e.LastResult(); snap.Attempted == 0 {
		t.Fatal("expected operations recorded before self-stop")
	}
}

func TestMaxOperationsCapEnforcedWithoutOvershoot(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:          "127.0.0.1",
		Port:          port,
		Protocol:      config.ProtocolUDP,
		Concurrency:   8,
		MaxOperations: 100,
		Duration:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return e.State() == engine.StateIdle
	})
	snap := e.LastResult()
	if snap.Attempted == 0 {
		t.Fatal("expected attempts recorded")
	}
	if snap.Attempted > 100 {
		t.Fatalf("cap overshoot: attempted %d > 100", snap.Attempted)
	}
}

func TestStopIdleReturnsZeroSnapshot(t *testing.T) {
	e := newEngine()
	snap := e.Stop()
	if snap.Attempted != 0 || snap.Succeeded != 0 || snap.Failed != 0 || snap.Bytes != 0 {
		t.Fatalf("expected all-zero snapshot from idle engine, got %+v", snap)
	}
}

func TestStatusIdleIsZeroed(t *testing.T) {
	e := newEngine()
	st := e.Status()
	if st.Running || st.Target != "" || st.Progress != 0 || st.ActiveWorkers != 0 {
		t.Fatalf("expected zeroed idle status, got %+v", st)
	}
}

func TestTCPWorkerRecordsSuccesses(t *testing.T) {
	port := newTCPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Protocol:    config.ProtocolTCP,
		Concurrency: 4,
		Duration:    2 * time.Second,
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return e.Status().Succeeded > 10
	})
	snap := e.Stop()
	if snap.Succeeded == 0 {
		t.Fatalf("expected tcp successes, got %+v", snap)
	}
	if snap.Bytes == 0 {
		t.Fatal("expected bytes recorded for tcp writes")
	}
}

func TestHTTPWorkerCountsStatuses(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	host, port := hostPort(t, okSrv.Listener.Addr().String())

	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        host,
		Port:        port,
		Protocol:    config.ProtocolHTTP,
		Concurrency: 2,
		Duration:    2 * time.Second,
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return e.Status().Succeeded > 5
	})
	snap := e.Stop()
	if snap.Failed != 0 {
		t.Fatalf("expected no failures against 200 server, got %d", snap.Failed)
	}
}

func TestHTTPWorkerTreatsServerErrorsAsFailures(t *testing.T) {
	errSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer errSrv.Close()
	host, port := hostPort(t, errSrv.Listener.Addr().String())

	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        host,
		Port:        port,
		Protocol:    config.ProtocolHTTP,
		Concurrency: 2,
		Duration:    2 * time.Second,
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return e.Status().Failed > 5
	})
	snap := e.Stop()
	if snap.Succeeded != 0 {
		t.Fatalf("expected no successes against 500 server, got %d", snap.Succeeded)
	}
	if len(snap.Errors) == 0 {
		t.Fatal("expected error breakdown populated")
	}
}

func TestSlowWorkerHoldsConnections(t *testing.T) {
	port := newTCPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:            "127.0.0.1",
		Port:            port,
		Protocol:        config.ProtocolSlow,
		Concurrency:     2,
		SlowConnections: 3,
		SlowInterval:    50 * time.Millisecond,
		Duration:        2 * time.Second,
		Timeout:         time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Each worker opens its capped set of held connections.
	waitFor(t, 2*time.Second, func() bool {
		return e.Status().Succeeded == 6
	})
	// Keep-alive fragments keep adding bytes beyond the opens.
	base := e.LastResult().Bytes
	waitFor(t, time.Second, func() bool {
		return e.LastResult().Bytes > base
	})
	snap := e.Stop()
	if snap.Succeeded != 6 {
		t.Fatalf("expected 6 held connections opened, got %d", snap.Succeeded)
	}
}

func TestSlowRunSelfStopsAtOperationCap(t *testing.T) {
	port := newTCPSink(t)
	e := newEngine()
	// No duration: the operation cap is the only bound, and held
	// connections must be released once it is reached.
	err := e.Start(engine.RunConfig{
		Host:            "127.0.0.1",
		Port:            port,
		Protocol:        config.ProtocolSlow,
		Concurrency:     2,
		SlowConnections: 3,
		SlowInterval:    50 * time.Millisecond,
		MaxOperations:   4,
		Timeout:         time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return e.State() == engine.StateIdle
	})
	snap := e.LastResult()
	if snap.Attempted != 4 {
		t.Fatalf("expected exactly 4 attempts at the cap, got %d", snap.Attempted)
	}
}

func TestWebSocketWorkerRecordsCycles(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.Listener.Addr().String())

	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        host,
		Port:        port,
		Protocol:    config.ProtocolWebSocket,
		Concurrency: 2,
		Duration:    2 * time.Second,
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return e.Status().Succeeded > 2
	})
	snap := e.Stop()
	if snap.Succeeded == 0 {
		t.Fatalf("expected websocket cycles recorded, got %+v", snap)
	}
}

func TestRatePacingBoundsThroughput(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	err := e.Start(engine.RunConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Protocol:    config.ProtocolUDP,
		Concurrency: 4,
		Rate:        100,
		Duration:    500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return e.State() == engine.StateIdle
	})
	snap := e.LastResult()
	// 100 ops/s over 0.5s plus a full burst allowance.
	if snap.Attempted > 220 {
		t.Fatalf("rate limiter exceeded: attempted %d", snap.Attempted)
	}
}

func TestEngineRunsBackToBack(t *testing.T) {
	port := newUDPSink(t)
	e := newEngine()
	cfg := engine.RunConfig{
		Host:          "127.0.0.1",
		Port:          port,
		Protocol:      config.ProtocolUDP,
		Concurrency:   2,
		MaxOperations: 50,
		Duration:      5 * time.Second,
	}
	for i := 0; i < 2; i++ {
		if err := e.Start(cfg); err != nil {
			t.Fatalf("run %d start failed: %v", i, err)
		}
		waitFor(t, 3*time.Second, func() bool {
			return e.State() == engine.StateIdle
		})
		snap := e.LastResult()
		if snap.Attempted == 0 || snap.Attempted > 50 {
			t.Fatalf("run %d attempted out of range: %d", i, snap.Attempted)
		}
	}
}
