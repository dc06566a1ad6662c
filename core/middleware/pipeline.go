// Package middleware composes handlers that run around a core.Handler.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/searchktools/spserver/core"
)

// Middleware wraps a handler.
type Middleware func(next core.Handler) core.Handler

// Pipeline is an ordered list of middlewares. The first one added runs
// outermost.
type Pipeline struct {
	mws []Middleware
}

// NewPipeline creates a pipeline from mws.
func NewPipeline(mws ...Middleware) *Pipeline {
	p := &Pipeline{mws: make([]Middleware, 0, len(mws)+4)}
	return p.Use(mws...)
}

// Use appends middlewares.
func (p *Pipeline) Use(mws ...Middleware) *Pipeline {
	p.mws = append(p.mws, mws...)
	return p
}

// Len returns the number of middlewares.
func (p *Pipeline) Len() int { return len(p.mws) }

// Then wraps h. Wrapping happens once, at registration; the returned
// handler adds no work per request beyond the middlewares themselves.
func (p *Pipeline) Then(h core.Handler) core.Handler {
	for i := len(p.mws) - 1; i >= 0; i-- {
		h = p.mws[i](h)
	}
	return h
}

// Logger records every dispatched request at debug level. Handler errors
// are logged by the connection itself; here they only add an attribute.
func Logger(log *slog.Logger) Middleware {
	return func(next core.Handler) core.Handler {
		return core.HandlerFunc(func(c *core.Conn) error {
			err := next.ServeConn(c)
			if !log.Enabled(context.Background(), slog.LevelDebug) {
				return err
			}
			attrs := []any{
				"method", c.Request.Method,
				"host", c.Request.Host,
				"path", c.Request.Path,
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			log.Debug("request", attrs...)
			return err
		})
	}
}

// Recovery turns a panic into an error wrapping core.ErrHandlerPanic.
// Middlewares added before it see the error.
func Recovery() Middleware {
	return func(next core.Handler) core.Handler {
		return core.HandlerFunc(func(c *core.Conn) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", core.ErrHandlerPanic, r)
				}
			}()
			return next.ServeConn(c)
		})
	}
}

// CORS adds the cross-origin response headers for origin.
func CORS(origin string) Middleware {
	return func(next core.Handler) core.Handler {
		return core.HandlerFunc(func(c *core.Conn) error {
			c.Response.AddHeader("Access-Control-Allow-Origin", origin)
			c.Response.AddHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Response.AddHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
			return next.ServeConn(c)
		})
	}
}

// RequestID echoes the client's X-Request-Id or assigns a new one.
func RequestID() Middleware {
	var counter atomic.Uint64
	return func(next core.Handler) core.Handler {
		return core.HandlerFunc(func(c *core.Conn) error {
			id := c.Request.Header("X-Request-Id")
			if id == "" {
				id = strconv.FormatUint(counter.Add(1), 10)
			}
			c.Response.AddHeader("X-Request-Id", id)
			return next.ServeConn(c)
		})
	}
}
