package core

import (
	"fmt"

	"github.com/searchktools/spserver/core/http"
	"github.com/searchktools/spserver/core/loop"
	"github.com/searchktools/spserver/core/router"
)

// State is the lifecycle state of a Conn.
type State uint8

const (
	StateIdle State = iota // pooled
	StateReading
	StateMalformed
	StateRouting
	StateHandling
	StateFinishing
	StateClosing
)

var stateNames = [...]string{"idle", "reading", "malformed", "routing", "handling", "finishing", "closing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Conn drives one client connection through read, route, handle and
// respond, looping while the client keeps the connection alive.
//
// Conns are pooled by their Worker and are only touched from its loop
// goroutine.
type Conn struct {
	Request  http.Request
	Response http.Response

	w       *Worker
	sock    loop.Socket
	parser  *http.Parser
	state   State
	seq     uint64
	params  router.Params
	key     []byte
	scratch Scratch
	release Releaser

	iov      [2][]byte
	flushLen int

	// trampoline guard: completions that arrive while the connection is
	// already advancing are folded into the running loop
	running bool
	again   bool

	onRead  func(int, error)
	onFlush func(int, error)
}

func newConn(w *Worker) *Conn {
	c := &Conn{
		w:      w,
		parser: http.NewParser(),
		key:    make([]byte, 0, 128),
	}
	c.onRead = c.readDone
	c.onFlush = c.flushDone
	return c
}

// Reset prepares the Conn for the pool.
func (c *Conn) Reset() {
	c.sock = nil
	c.state = StateIdle
	c.Request.Reset()
	c.params = nil
	c.release = nil
	c.iov = [2][]byte{}
	c.flushLen = 0
	c.scratch.release()
}

// State returns the lifecycle state.
func (c *Conn) State() State { return c.state }

// Worker returns the owning worker.
func (c *Conn) Worker() *Worker { return c.w }

// Socket returns the underlying socket for handlers that write on their
// own, such as file transfers.
func (c *Conn) Socket() loop.Socket { return c.sock }

// Params returns the path parameters captured by the router.
func (c *Conn) Params() router.Params { return c.params }

// Param returns one path parameter or "".
func (c *Conn) Param(name string) string { return c.params.ByName(name) }

// Scratch returns the per-connection scratch slot.
func (c *Conn) Scratch() *Scratch { return &c.scratch }

// Date returns the worker's cached "Date: ...\r\n" header line.
func (c *Conn) Date() []byte { return c.w.date }

func (c *Conn) start(sock loop.Socket) {
	c.sock = sock
	c.parser.Reset()
	c.state = StateReading
	c.next()
}

func (c *Conn) next() {
	if c.running {
		c.again = true
		return
	}
	c.running = true
	for {
		c.again = false
		c.advance()
		if !c.again {
			break
		}
	}
	c.running = false
}

// advance processes a buffered request or issues the next read.
func (c *Conn) advance() {
	if c.state != StateReading {
		return
	}
	if c.parser.TryParse() {
		c.process()
		return
	}
	c.sock.Recv(c.parser.BeginFill(), c.onRead)
}

func (c *Conn) readDone(n int, err error) {
	if n <= 0 || err != nil {
		c.Abort()
		return
	}
	c.parser.CommitFill(n)
	c.next()
}

func (c *Conn) process() {
	c.seq++

	if c.parser.Malformed() {
		c.state = StateMalformed
		c.w.counters.Malformed++
		c.Request.Reset()
		c.Response.Reset(false)
		c.Response.SetStatus(http.StatusLine(400), contentTypePlain)
		c.Response.WriteString("Malformed request")
		c.Finish(true)
		return
	}

	c.Request.Load(c.parser)
	c.Response.Reset(c.Request.KeepAlive)

	c.state = StateRouting
	h := c.route()
	c.dispatch(h)
}

// route resolves the handler for host#path through the route cache,
// falling back to the router and caching its answer.
func (c *Conn) route() Handler {
	c.key = append(c.key[:0], c.Request.Host...)
	c.key = append(c.key, '#')
	c.key = append(c.key, c.Request.Path...)

	if h, ok := c.w.routes.Find(c.key); ok {
		c.w.counters.RouteHits++
		return h
	}
	c.w.counters.RouteMisses++

	if c.w.router == nil {
		return c.w.handler
	}
	h := c.w.router.Route(c.Request.Host, c.Request.Path)
	if h == nil {
		return HandlerFunc(notFound)
	}
	if !c.w.routes.Insert(c.key, h) {
		if r, ok := h.(Releaser); ok {
			c.release = r
		}
	}
	return h
}

func (c *Conn) dispatch(h Handler) {
	c.state = StateHandling
	seq := c.seq
	rel := c.release
	c.release = nil

	err := c.serve(h)
	if rel != nil {
		rel.Release()
	}
	if err == nil {
		return
	}

	if c.seq != seq || c.state != StateHandling {
		c.w.log.Warn("handler error after the response was finished",
			"path", c.Request.Path, "err", err)
		return
	}
	c.fail(err)
}

func (c *Conn) serve(h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.ServeConn(c)
}

// fail replaces whatever the handler produced with a 500 page.
func (c *Conn) fail(err error) {
	c.w.counters.HandlerErrors++
	c.w.log.Error("handler failed", "host", c.Request.Host, "path", c.Request.Path, "err", err)

	c.scratch.release()
	c.Response.Reset(c.Request.KeepAlive)
	c.errorPage(500, err.Error())
	c.Finish(true)
}

// errorPage renders a small HTML page for code with msg escaped.
func (c *Conn) errorPage(code int, msg string) {
	status := http.StatusLine(code)
	r := &c.Response
	r.SetStatus(status, contentTypeHTML)
	r.Body = r.Body[:0]
	r.Body = append(r.Body, "<html><head><title>"...)
	r.Body = append(r.Body, status...)
	r.Body = append(r.Body, "</title></head>\n<body><h1>"...)
	r.Body = append(r.Body, status...)
	r.Body = append(r.Body, "</h1><hr />"...)
	if msg != "" {
		r.Body = append(r.Body, "<h2>"...)
		r.Body = http.AppendHTMLEscaped(r.Body, msg)
		r.Body = append(r.Body, "</h2>"...)
	}
	r.Body = append(r.Body, "</body></html>"...)
}

// Reply sets the status, content type and body, then finishes the request.
func (c *Conn) Reply(code int, contentType, body string) {
	c.Response.SetStatus(http.StatusLine(code), contentType)
	c.Response.WriteString(body)
	c.Finish(true)
}

// Finish ends the current request. With flush, the response headers and
// body are written first; without it the handler has already sent the
// response itself. Calls outside the handling state are ignored.
func (c *Conn) Finish(flush bool) {
	if c.state != StateHandling && c.state != StateMalformed {
		c.w.log.Debug("finish outside of a request", "state", c.state)
		return
	}
	c.scratch.release()

	if !flush {
		c.w.counters.CountResponse(statusCode(c.Response.Status()))
		c.state = StateFinishing
		c.requestCompleted()
		return
	}

	head, err := c.Response.Compose(c.w.date, int64(len(c.Response.Body)))
	if err != nil {
		c.w.log.Error("compose response headers", "path", c.Request.Path, "err", err)
		c.errorPage(500, err.Error())
		head, _ = c.Response.Compose(c.w.date, int64(len(c.Response.Body)))
	}
	c.w.counters.CountResponse(statusCode(c.Response.Status()))

	c.state = StateFinishing
	c.iov[0], c.iov[1] = head, c.Response.Body
	c.flushLen = len(head) + len(c.Response.Body)
	c.sock.WritevAll(c.iov[:], c.onFlush)
}

func (c *Conn) flushDone(n int, err error) {
	c.iov = [2][]byte{}
	if err != nil || n != c.flushLen {
		c.Abort()
		return
	}
	c.requestCompleted()
}

func (c *Conn) requestCompleted() {
	if !c.Response.KeepAlive {
		c.close()
		return
	}
	c.params = nil
	c.parser.ClearRequest()
	c.state = StateReading
	c.next()
}

// Abort closes the connection without a response.
func (c *Conn) Abort() {
	if c.state == StateIdle || c.state == StateClosing {
		return
	}
	c.scratch.release()
	c.close()
}

func (c *Conn) close() {
	c.state = StateClosing
	sock := c.sock
	c.sock = nil
	sock.ShutdownWrite()
	sock.Close()
	c.w.release(c)
}

// Takeover detaches the socket from the connection, for protocol upgrades.
// It returns the socket and any bytes the client sent after the current
// request. The Conn goes back to the pool without closing the socket; it
// must be called from the handler while the request is being handled.
func (c *Conn) Takeover() (loop.Socket, []byte, error) {
	if c.state != StateHandling {
		return nil, nil, ErrNotHandling
	}
	begin, processed, _, _ := c.parser.Cursors()
	rest := append([]byte(nil), c.parser.Buffered()[processed-begin:]...)

	c.scratch.release()
	sock := c.sock
	c.sock = nil
	c.state = StateClosing
	c.w.release(c)
	return sock, rest, nil
}

// SetParams is used by routers that capture path parameters.
func (c *Conn) SetParams(ps router.Params) { c.params = ps }

// statusCode parses the leading digits of a status line.
func statusCode(status string) int {
	if len(status) < 3 {
		return 0
	}
	code := 0
	for i := 0; i < 3; i++ {
		d := status[i]
		if d < '0' || d > '9' {
			return 0
		}
		code = code*10 + int(d-'0')
	}
	return code
}

func notFound(c *Conn) error {
	c.errorPage(404, "")
	c.Finish(true)
	return nil
}
