package daemon

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/autoaccept/internal/config"
	"github.com/ppiankov/autoaccept/internal/engine"
	"github.com/ppiankov/autoaccept/internal/refresh"
	"github.com/ppiankov/autoaccept/internal/rules"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Enabled = false
	cfg.StorePath = filepath.Join(t.TempDir(), "state.db")
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *io.PipeWriter) {
	t.Helper()
	hostR, hostW := io.Pipe()
	d, err := New(context.Background(), Options{
		Config:  cfg,
		HostIn:  hostR,
		HostOut: io.Discard,
		Log:     quietLog(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		hostW.Close()
		d.Close()
	})
	return d, hostW
}

func TestRunStopsWhenHostCloses(t *testing.T) {
	d, hostW := newTestDaemon(t, testConfig(t))

	errc := make(chan error, 1)
	go func() { errc <- d.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	hostW.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after host closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := d.Engine().State(); got != engine.Stopped {
		t.Errorf("engine state = %v, want stopped", got)
	}
}

func TestRunFailsOnBadListenAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = "256.0.0.1:bad"
	d, _ := newTestDaemon(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := d.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "http listen") {
		t.Fatalf("Run error = %v, want http listen failure", err)
	}
}

func TestQuotaHealthFollowsCacheState(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t))
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := d.health.Check(ctx, &healthpb.HealthCheckRequest{Service: QuotaService})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %v, want NOT_SERVING", got)
	}
	d.onQuotaUpdate(refresh.Cache{State: refresh.StateOK})
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after ok = %v, want SERVING", got)
	}
	d.onQuotaUpdate(refresh.Cache{State: refresh.StateOffline})
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after offline = %v, want NOT_SERVING", got)
	}

	resp, err := d.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check overall: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", resp.GetStatus())
	}
}

func TestApplyConfigUpdatesRules(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t))

	next := testConfig(t)
	next.Rules = rules.Lists{Deny: []string{"make deploy"}}
	d.applyConfig(context.Background(), next)

	res := d.rules.Evaluate("make deploy", rules.Context{Type: rules.Terminal})
	if res.Approved {
		t.Error("reloaded deny rule not applied")
	}
	if got := d.rules.Lists().Deny; len(got) != 1 || got[0] != "make deploy" {
		t.Errorf("deny list = %v", got)
	}
}

func TestApplyConfigStartsEngine(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	next := testConfig(t)
	next.Enabled = true
	next.PollInterval = time.Hour
	d.applyConfig(ctx, next)
	defer d.Engine().Stop()

	if got := d.Engine().State(); got != engine.Running {
		t.Errorf("state = %v, want running", got)
	}
}

func TestApplyConfigIgnoredAfterShutdown(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	next := testConfig(t)
	next.Enabled = true
	next.Rules = rules.Lists{Deny: []string{"make deploy"}}
	d.applyConfig(ctx, next)

	if got := d.Engine().State(); got != engine.Stopped {
		t.Errorf("state = %v, want stopped", got)
	}
	if got := d.rules.Lists().Deny; len(got) != 0 {
		t.Errorf("deny list = %v, want unchanged", got)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.UI.Provider = "carrier-pigeon"
	_, err := New(context.Background(), Options{Config: cfg, Log: quietLog()})
	if err == nil || !strings.Contains(err.Error(), "unknown ui provider") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewBridgeNeedsStreams(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(context.Background(), Options{Config: cfg, Log: quietLog()})
	if err == nil {
		t.Fatal("expected error without host streams")
	}
}
