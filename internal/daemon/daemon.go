// Package daemon wires the engine, quota refresher, lease, health service,
// dashboard API and config reloader into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/autoaccept/internal/audit"
	"github.com/ppiankov/autoaccept/internal/breaker"
	"github.com/ppiankov/autoaccept/internal/config"
	"github.com/ppiankov/autoaccept/internal/engine"
	"github.com/ppiankov/autoaccept/internal/grouping"
	"github.com/ppiankov/autoaccept/internal/httpapi"
	"github.com/ppiankov/autoaccept/internal/lease"
	"github.com/ppiankov/autoaccept/internal/locator"
	"github.com/ppiankov/autoaccept/internal/oplog"
	"github.com/ppiankov/autoaccept/internal/refresh"
	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/statusapi"
	"github.com/ppiankov/autoaccept/internal/store"
	"github.com/ppiankov/autoaccept/internal/ui"
)

// QuotaService is the health service name that tracks status API reachability.
const QuotaService = "autoaccept.quota"

const shutdownTimeout = 5 * time.Second

// Options configure a Daemon.
type Options struct {
	Config     *config.Config
	ConfigPath string // watched for hot reload; empty disables reload

	// Host side of the bridge provider. Ignored for the CDP provider.
	HostIn  io.Reader
	HostOut io.Writer

	Log *slog.Logger
}

// Daemon owns every long-lived component.
type Daemon struct {
	opts Options
	cfg  *config.Config
	log  *slog.Logger

	store     *store.Store
	auditLog  *audit.Log
	ops       *oplog.Log
	rules     *rules.Matcher
	breaker   *breaker.Breaker
	engine    *engine.Engine
	grouper   *grouping.Grouper
	elector   *lease.Elector
	refresher *refresh.Refresher
	health    *health.Server
	grpc      *grpc.Server
	api       *httpapi.Server

	hostGone <-chan struct{}
	closers  []io.Closer
}

// New builds all components. Nothing runs until Run.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	d := &Daemon{opts: opts, cfg: cfg, log: log}

	if err := d.openState(ctx); err != nil {
		d.Close()
		return nil, err
	}

	d.rules = rules.New(cfg.Rules)
	d.breaker = breaker.New(cfg.Breaker)

	provider, notifier, err := d.newProvider()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.engine = engine.New(cfg.Engine(), engine.Deps{
		Provider: provider,
		Notifier: notifier,
		Rules:    d.rules,
		Breaker:  d.breaker,
		Ops:      d.ops,
	}, log.With("component", "engine"))

	d.grouper, err = grouping.NewGrouper(ctx, d.store)
	if err != nil {
		d.Close()
		return nil, err
	}

	client, err := NewStatusClient(cfg, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.elector = lease.New(cfg.Lease, d.store, log.With("component", "lease"))
	d.refresher = refresh.New(client, d.grouper, d.store, d.elector, cfg.QuotaRefreshInterval, log.With("component", "quota"))

	d.health = health.NewServer()
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	d.health.SetServingStatus(QuotaService, healthpb.HealthCheckResponse_NOT_SERVING)
	d.refresher.OnUpdate = d.onQuotaUpdate
	d.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(d.grpc, d.health)

	d.api = httpapi.New(httpapi.Deps{
		Engine:  d.engine,
		Ops:     d.ops,
		Grouper: d.grouper,
		Rules:   d.rules,
		KV:      d.store,
	}, log.With("component", "api"))

	return d, nil
}

func (d *Daemon) openState(ctx context.Context) error {
	st, err := store.Open(d.cfg.StorePath)
	if err != nil {
		return err
	}
	d.store = st
	d.closers = append(d.closers, st)

	if d.cfg.AuditLog != "" {
		al, err := audit.Open(d.cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		d.auditLog = al
		d.closers = append(d.closers, al)
	}

	d.ops, err = oplog.Load(ctx, st, oplog.Options{Capacity: d.cfg.OplogCapacity, Audit: d.auditLog})
	return err
}

func (d *Daemon) newProvider() (ui.Provider, ui.Notifier, error) {
	switch strings.ToLower(d.cfg.UI.Provider) {
	case config.ProviderCDP:
		p := ui.NewCDP(d.cfg.UI.CDPPort, d.cfg.UI.Timeout, d.log.With("component", "cdp"))
		d.closers = append(d.closers, p)
		return p, ui.LogNotifier{Log: d.log}, nil
	case config.ProviderBridge, "":
		in, out := d.opts.HostIn, d.opts.HostOut
		if in == nil || out == nil {
			return nil, nil, errors.New("daemon: bridge provider needs host streams")
		}
		b := ui.NewBridge(in, out, d.cfg.UI.Timeout, d.log.With("component", "bridge"))
		d.hostGone = b.Done()
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("daemon: unknown ui provider %q", d.cfg.UI.Provider)
	}
}

// NewStatusClient builds the discovery and status API chain for the current
// platform: locator, TTL cache and retrying client.
func NewStatusClient(cfg *config.Config, log *slog.Logger) (*statusapi.Client, error) {
	strategy, err := locator.CurrentStrategy()
	if err != nil {
		return nil, err
	}
	prober := statusapi.NewProber(cfg.Locator.ProbeTimeout)
	loc := locator.New(cfg.Locator, strategy, locator.ExecRunner{}, prober, log.With("component", "locator"))
	cache := locator.NewCache(loc, cfg.Locator.CacheTTL)
	return statusapi.New(cfg.API, cache, log.With("component", "statusapi")), nil
}

func (d *Daemon) onQuotaUpdate(c refresh.Cache) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if c.State == refresh.StateOK {
		status = healthpb.HealthCheckResponse_SERVING
	}
	d.health.SetServingStatus(QuotaService, status)
}

// Engine exposes the polling engine.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Run starts every component and blocks until ctx is cancelled, the host
// bridge closes, or a server fails.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	d.engine.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		d.engine.Stop()
		return nil
	})

	g.Go(func() error { return d.elector.Run(ctx) })
	g.Go(func() error {
		d.refresher.Run(ctx)
		return nil
	})

	if d.hostGone != nil {
		g.Go(func() error {
			select {
			case <-d.hostGone:
				d.log.Info("host closed the bridge, shutting down")
				cancel()
			case <-ctx.Done():
			}
			return nil
		})
	}

	if d.opts.ConfigPath != "" {
		r, err := config.NewReloader(d.opts.ConfigPath, func(cfg *config.Config) {
			d.applyConfig(ctx, cfg)
		}, d.log.With("component", "config"))
		if err != nil {
			d.log.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return r.Run(ctx) })
		}
	}

	if d.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", d.cfg.GRPCAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("daemon: grpc listen %s: %w", d.cfg.GRPCAddr, err)
		}
		g.Go(func() error { return d.grpc.Serve(lis) })
		g.Go(func() error {
			<-ctx.Done()
			d.health.Shutdown()
			d.grpc.GracefulStop()
			return nil
		})
		d.log.Info("health service listening", "addr", lis.Addr().String())
	}

	if d.cfg.HTTPAddr != "" {
		lis, err := net.Listen("tcp", d.cfg.HTTPAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("daemon: http listen %s: %w", d.cfg.HTTPAddr, err)
		}
		srv := &http.Server{Handler: d.api.Router(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("daemon: http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
		d.log.Info("dashboard API listening", "addr", lis.Addr().String())
	}

	return g.Wait()
}

// applyConfig takes a reloaded config. Rules and engine settings change in
// place; breaker thresholds, listeners and storage need a restart.
func (d *Daemon) applyConfig(ctx context.Context, cfg *config.Config) {
	// A reload landing during shutdown must not restart the engine.
	if ctx.Err() != nil {
		d.log.Debug("config reload ignored during shutdown")
		return
	}
	d.rules.UpdateRules(cfg.Rules)
	d.engine.ApplyConfig(ctx, cfg.Engine())
	d.cfg.Rules = cfg.Rules
	d.cfg.Enabled = cfg.Enabled
	d.cfg.PollInterval = cfg.PollInterval
}

// Close releases storage and connections.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
