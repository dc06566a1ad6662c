package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/searchktools/spserver/core/filecache"
	"github.com/searchktools/spserver/core/http"
	"github.com/searchktools/spserver/core/loop"
	"github.com/searchktools/spserver/core/observability"
	"github.com/searchktools/spserver/core/pools"
	"github.com/searchktools/spserver/core/routecache"
	"golang.org/x/sys/unix"
)

// WorkerConfig configures one Worker.
type WorkerConfig struct {
	ID                int
	RouteCacheBuckets int
	FileCache         filecache.Config

	// Routing, first match wins: NewRouter builds a router bound to the
	// worker (so it can fall back to w.Static()), Router is shared as is,
	// Handler serves every request without routing. With none of them set
	// the worker serves static files.
	NewRouter func(w *Worker) Router
	Router    Router
	Handler   Handler

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// OnFatal is called when accepting fails. It defaults to exiting the
	// process.
	OnFatal func(error)
}

// Worker owns one event loop and everything its connections share: the
// route cache, the file cache, the connection pool and the Date line.
// All methods must be called from the loop goroutine.
type Worker struct {
	id      int
	loop    loop.EventLoop
	log     *slog.Logger
	router  Router
	handler Handler

	routes *routecache.Cache[Handler]
	files  *filecache.Cache
	conns  *pools.FreeList[Conn]
	active map[*Conn]struct{}

	date []byte

	counters observability.WorkerCounters
	totals   observability.WorkerCounters
	metrics  *observability.WorkerMetrics

	onFatal func(error)
	started time.Time
}

// NewWorker creates a worker driven by l.
func NewWorker(l loop.EventLoop, cfg WorkerConfig) (*Worker, error) {
	if cfg.RouteCacheBuckets == 0 {
		cfg.RouteCacheBuckets = routecache.DefaultBuckets
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		id:      cfg.ID,
		loop:    l,
		log:     logger.With("worker", cfg.ID),
		files:   filecache.New(cfg.FileCache),
		active:  make(map[*Conn]struct{}, 256),
		date:    make([]byte, 0, 64),
		onFatal: cfg.OnFatal,
		started: time.Now(),
	}
	routes, err := routecache.NewWithEvict(cfg.RouteCacheBuckets, releaseHandler)
	if err != nil {
		return nil, fmt.Errorf("core: worker %d: %w", cfg.ID, err)
	}
	w.routes = routes
	w.conns = pools.NewFreeList(func() *Conn { return newConn(w) })

	if w.onFatal == nil {
		w.onFatal = func(error) { os.Exit(1) }
	}
	if cfg.Metrics != nil {
		w.metrics = cfg.Metrics.Worker(cfg.ID)
	}

	switch {
	case cfg.NewRouter != nil:
		w.router = cfg.NewRouter(w)
	case cfg.Router != nil:
		w.router = cfg.Router
	case cfg.Handler != nil:
		w.handler = cfg.Handler
	default:
		w.router = w.Static()
	}

	w.date = http.AppendDateHeader(w.date[:0], w.started)
	return w, nil
}

func releaseHandler(h Handler) {
	if r, ok := h.(Releaser); ok {
		r.Release()
	}
}

func (w *Worker) ID() int                 { return w.id }
func (w *Worker) Logger() *slog.Logger    { return w.log }
func (w *Worker) Files() *filecache.Cache { return w.files }

// Active returns the number of open connections.
func (w *Worker) Active() int { return len(w.active) }

// Listen accepts connections on the listening descriptor fd.
func (w *Worker) Listen(fd int) error {
	return w.loop.Accept(fd, w.accepted)
}

func (w *Worker) accepted(fd int, err error) {
	if err != nil {
		w.log.Error("accept failed", "err", err)
		w.onFatal(fmt.Errorf("core: accept: %w", err))
		return
	}
	sock, err := w.loop.Open(fd)
	if err != nil {
		w.log.Warn("register connection", "fd", fd, "err", err)
		unix.Close(fd)
		return
	}
	w.counters.Accepted++
	w.Serve(sock)
}

// Serve starts handling an open socket.
func (w *Worker) Serve(sock loop.Socket) {
	c := w.conns.Get()
	w.active[c] = struct{}{}
	c.start(sock)
}

func (w *Worker) release(c *Conn) {
	delete(w.active, c)
	w.conns.Put(c)
}

// Tick refreshes the Date line, runs file cache maintenance and flushes
// metrics. Run schedules it once per second.
func (w *Worker) Tick(now time.Time) {
	start := time.Now()
	w.date = http.AppendDateHeader(w.date[:0], now)

	if n := w.files.Tick(now); n > 0 {
		w.log.Debug("evicted files", "count", n, "capacity", w.files.Capacity())
	}

	w.accumulate()
	if w.metrics == nil {
		w.counters = observability.WorkerCounters{}
		return
	}
	st := w.files.Stats()
	w.metrics.Flush(&w.counters,
		observability.Gauges{
			Connections:  len(w.active),
			RouteEntries: w.routes.Len(),
			FileCapacity: st.Capacity,
			FileLoaded:   st.Loaded,
		},
		observability.FileTotals{
			Requests:  st.Requests,
			Loads:     st.Loads,
			Errors:    st.LoadErrors,
			Evictions: st.Evictions,
		},
		time.Since(start))
}

// accumulate folds the counters of the current tick into the totals.
func (w *Worker) accumulate() {
	c, t := &w.counters, &w.totals
	for i, n := range c.Responses {
		t.Responses[i] += n
	}
	t.Malformed += c.Malformed
	t.HandlerErrors += c.HandlerErrors
	t.Accepted += c.Accepted
	t.RouteHits += c.RouteHits
	t.RouteMisses += c.RouteMisses
}

// Run drives the loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.loop.Every(time.Second, w.Tick)
	w.log.Info("worker started")
	err := w.loop.Run(ctx)
	w.Close()
	return err
}

// Close aborts every connection and drops all cached routes and files.
func (w *Worker) Close() {
	for c := range w.active {
		c.Abort()
	}
	w.routes.Clear()
	w.files.Close()
}
