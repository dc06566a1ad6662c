/*
Package spserver is an event-driven HTTP/1.1 server engine.

Each worker owns one OS thread, one event loop (epoll on Linux, kqueue on
Darwin), one SO_REUSEPORT listening socket and its own caches, so the
request path takes no locks.

Request flow

A pooled connection reads into the parser's growable buffer until a full
request is buffered, then resolves a handler through the route cache,
falling back to the router on a miss. The handler writes into the
response, and Finish sends headers and body in one vectored write. Keep-alive
connections go straight back to parsing whatever the client already sent.

Static files are served from a reference-counted cache: small files are
mmapped and written with the headers in one writev, larger ones are streamed
with sendfile. The cache grows and shrinks its capacity once per second from
the observed hit ratio.

Quick start

	cfg := config.Default()
	cfg.Root = "./public"

	a, err := app.New(cfg, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	a.HandleFunc("/hello/:name", func(c *core.Conn) error {
		c.Reply(200, "text/plain", "hello "+c.Param("name"))
		return nil
	})
	log.Fatal(a.Run(context.Background()))

Packages

  - app: worker startup, listeners, logging, metrics
  - config: flags, SPSERVER_* environment variables, JSON file
  - core: connection state machine, worker, mux, static files
  - core/http: request parser, request and response types
  - core/loop, core/poller: event loop over epoll/kqueue
  - core/routecache: set-associative route cache
  - core/filecache: adaptive static file cache
  - core/router: radix tree
  - core/middleware: handler pipeline
  - core/observability: Prometheus collectors
  - core/pools: free list and GC settings
*/
package spserver
