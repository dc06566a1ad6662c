package core

// Handler serves one request on a Conn.
//
// A handler ends the request by calling exactly one of c.Finish or c.Abort,
// either before returning or later from a completion callback of its own
// socket I/O. A returned error (or a panic) before the request is finished
// is turned into a 500 response.
type Handler interface {
	ServeConn(c *Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *Conn) error

func (f HandlerFunc) ServeConn(c *Conn) error { return f(c) }

// Router resolves a handler on a route cache miss. host and path are only
// valid for the duration of the call. A nil result answers 404 and is not
// cached.
type Router interface {
	Route(host, path string) Handler
}

// RouterFunc adapts a function to Router.
type RouterFunc func(host, path string) Handler

func (f RouterFunc) Route(host, path string) Handler { return f(host, path) }

// Releaser is implemented by routed handlers that own resources. Release
// is called when the route cache drops the handler, or right after
// dispatch when the handler could not be cached.
type Releaser interface {
	Release()
}

// Dropper is implemented by scratch objects that need cleanup; Drop runs
// when the connection leaves the handling state.
type Dropper interface {
	Drop()
}
