package core

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/searchktools/spserver/core/http"
	"github.com/searchktools/spserver/core/observability"
	"github.com/searchktools/spserver/core/pools"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var snapshotJSON = protojson.MarshalOptions{Multiline: true, Indent: "  "}

// Snapshot describes the worker's pool, caches and counters since start.
func (w *Worker) Snapshot() (*structpb.Struct, error) {
	t := w.totals
	c := w.counters
	responses := make(map[string]any, len(t.Responses))
	for class := range t.Responses {
		n := t.Responses[class] + c.Responses[class]
		if n == 0 {
			continue
		}
		label := "other"
		if class > 0 {
			label = strconv.Itoa(class) + "xx"
		}
		responses[label] = n
	}

	pool := w.conns.Stats()
	files := w.files.Stats()
	rt := pools.ReadRuntimeStats()
	return structpb.NewStruct(map[string]any{
		"worker":         w.id,
		"uptime_seconds": time.Since(w.started).Seconds(),
		"connections":    len(w.active),
		"responses":      responses,
		"malformed":      t.Malformed + c.Malformed,
		"handler_errors": t.HandlerErrors + c.HandlerErrors,
		"accepted":       t.Accepted + c.Accepted,
		"pool": map[string]any{
			"gets":   pool.Gets,
			"news":   pool.News,
			"puts":   pool.Puts,
			"idle":   pool.Idle,
			"in_use": w.conns.InUse(),
		},
		"route_cache": map[string]any{
			"entries":  w.routes.Len(),
			"capacity": w.routes.Capacity(),
			"hits":     t.RouteHits + c.RouteHits,
			"misses":   t.RouteMisses + c.RouteMisses,
		},
		"file_cache": map[string]any{
			"files":         files.Files,
			"loaded":        files.Loaded,
			"capacity":      files.Capacity,
			"requests":      files.Requests,
			"loads":         files.Loads,
			"load_errors":   files.LoadErrors,
			"evictions":     files.Evictions,
			"invalidations": files.Invalidations,
		},
		"runtime": map[string]any{
			"goroutines":          rt.Goroutines,
			"heap_alloc":          rt.HeapAlloc,
			"sys":                 rt.Sys,
			"gc_count":            rt.NumGC,
			"gc_pause_total_secs": rt.PauseTotal.Seconds(),
			"gc_last_pause_secs":  rt.LastPause.Seconds(),
		},
	})
}

// StatsHandler renders the serving worker's snapshot as JSON.
func StatsHandler() Handler {
	return HandlerFunc(func(c *Conn) error {
		s, err := c.w.Snapshot()
		if err != nil {
			return err
		}
		b, err := snapshotJSON.Marshal(s)
		if err != nil {
			return err
		}
		c.Response.SetStatus(http.StatusLine(200), contentTypeJSON)
		c.Response.Write(b)
		c.Finish(true)
		return nil
	})
}

// MetricsHandler renders the metrics gathered by g in the Prometheus text
// format.
func MetricsHandler(g prometheus.Gatherer) Handler {
	return HandlerFunc(func(c *Conn) error {
		if err := observability.WriteText(&c.Response, g); err != nil {
			return err
		}
		c.Response.SetStatus(http.StatusLine(200), observability.TextContentType)
		c.Finish(true)
		return nil
	})
}
