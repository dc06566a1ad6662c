// Package app runs one worker per thread, each with its own event loop and
// SO_REUSEPORT listening socket, and wires in logging, metrics and the
// diagnostic endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/searchktools/spserver/config"
	"github.com/searchktools/spserver/core"
	"github.com/searchktools/spserver/core/loop"
	"github.com/searchktools/spserver/core/middleware"
	"github.com/searchktools/spserver/core/observability"
	"github.com/searchktools/spserver/core/pools"
	"golang.org/x/sys/unix"
)

type route struct {
	host    string
	pattern string
	h       core.Handler
}

// App is the server instance.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	routes   []route
	pipeline *middleware.Pipeline

	addr  string
	ready chan struct{}
}

// New creates an application logging to out.
func New(cfg *config.Config, out io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid configuration: %w", err)
	}
	logger, err := NewLogger(cfg, out)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:      cfg,
		log:      logger,
		registry: registry,
		metrics:  observability.NewMetrics(observability.WithRegistry(registry)),
		pipeline: middleware.NewPipeline(middleware.Logger(logger), middleware.Recovery()),
		ready:    make(chan struct{}),
	}, nil
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg *config.Config, out io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("app: log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.LogFormat {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	default:
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), nil
}

func (a *App) Logger() *slog.Logger            { return a.log }
func (a *App) Registry() *prometheus.Registry  { return a.registry }
func (a *App) Config() *config.Config          { return a.cfg }
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Use appends middlewares run around every registered route. Diagnostic
// endpoints and static files are not wrapped. Call before Run.
func (a *App) Use(mws ...middleware.Middleware) {
	a.pipeline.Use(mws...)
}

// Handle registers h for pattern on every host. Routes must be registered
// before Run.
func (a *App) Handle(pattern string, h core.Handler) {
	a.routes = append(a.routes, route{pattern: pattern, h: h})
}

// HandleFunc registers f for pattern on every host.
func (a *App) HandleFunc(pattern string, f func(c *core.Conn) error) {
	a.Handle(pattern, core.HandlerFunc(f))
}

// HandleHost registers h for pattern on one host.
func (a *App) HandleHost(host, pattern string, h core.Handler) {
	a.routes = append(a.routes, route{host: host, pattern: pattern, h: h})
}

// Ready is closed once every listening socket is open.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listen address; valid after Ready.
func (a *App) Addr() string { return a.addr }

// router builds the per-worker Mux: diagnostics, registered routes, and
// static files for everything else.
func (a *App) router(w *core.Worker) core.Router {
	mux := core.NewMux()
	if a.cfg.StatsPath != "" {
		mux.Handle(a.cfg.StatsPath, core.StatsHandler())
	}
	if a.cfg.MetricsPath != "" {
		mux.Handle(a.cfg.MetricsPath, core.MetricsHandler(a.registry))
	}
	for _, r := range a.routes {
		h := a.pipeline.Then(r.h)
		if r.host != "" {
			mux.HandleHost(r.host, r.pattern, h)
		} else {
			mux.Handle(r.pattern, h)
		}
	}
	mux.Fallback(w.Static())
	return mux
}

// Run serves until ctx is cancelled or a worker fails.
func (a *App) Run(ctx context.Context) error {
	prev := pools.ApplyGCConfig(pools.GCConfig{
		Percent:     a.cfg.GCPercent,
		MemoryLimit: a.cfg.MemoryLimit,
	})
	a.log.Debug("gc configured", "percent", a.cfg.GCPercent, "previous", prev, "memory_limit", a.cfg.MemoryLimit)

	fds, addr, err := ListenAll(a.cfg.Addr, a.cfg.Workers)
	if err != nil {
		return err
	}
	a.addr = addr
	close(a.ready)

	a.log.Info("server starting",
		"addr", addr,
		"workers", len(fds),
		"env", a.cfg.Env,
		"root", a.cfg.Root,
		"go", runtime.Version())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(fds))
	for i, fd := range fds {
		i, fd := i, fd
		go func() {
			errs <- a.runWorker(ctx, i, fd)
		}()
	}

	var all []error
	for range fds {
		if err := <-errs; err != nil {
			all = append(all, err)
			cancel()
		}
	}
	a.log.Info("server stopped")
	return errors.Join(all...)
}

// runWorker owns one OS thread for the lifetime of its loop.
func (a *App) runWorker(ctx context.Context, id, fd int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer unix.Close(fd)

	l, err := loop.New()
	if err != nil {
		return fmt.Errorf("app: worker %d: %w", id, err)
	}
	defer l.Close()

	w, err := core.NewWorker(l, core.WorkerConfig{
		ID:                id,
		RouteCacheBuckets: a.cfg.RouteCacheBuckets,
		FileCache:         a.cfg.FileCache(),
		NewRouter:         a.router,
		Logger:            a.log,
		Metrics:           a.metrics,
	})
	if err != nil {
		return err
	}
	if err := w.Listen(fd); err != nil {
		return fmt.Errorf("app: worker %d: listen: %w", id, err)
	}
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("app: worker %d: %w", id, err)
	}
	return nil
}
