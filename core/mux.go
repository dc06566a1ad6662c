package core

import (
	"strings"

	"github.com/searchktools/spserver/core/router"
)

// Mux routes by host and path pattern. Patterns use the radix tree syntax:
// "/users/:id" captures one segment, "/static/*file" the rest of the path.
// Routes registered for a host take precedence over host-less routes.
//
// Mux is consulted only on a route cache miss, so lookups may allocate.
type Mux struct {
	hosts    map[string]*router.Tree[Handler]
	all      *router.Tree[Handler]
	fallback Router
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{
		hosts: make(map[string]*router.Tree[Handler]),
		all:   router.New[Handler](),
	}
}

// Handle registers h for pattern on every host.
func (m *Mux) Handle(pattern string, h Handler) {
	m.all.Add(pattern, h)
}

// HandleFunc registers f for pattern on every host.
func (m *Mux) HandleFunc(pattern string, f func(c *Conn) error) {
	m.Handle(pattern, HandlerFunc(f))
}

// HandleHost registers h for pattern on one host.
func (m *Mux) HandleHost(host, pattern string, h Handler) {
	host = strings.ToLower(stripPort(host))
	t, ok := m.hosts[host]
	if !ok {
		t = router.New[Handler]()
		m.hosts[host] = t
	}
	t.Add(pattern, h)
}

// Fallback sets the router consulted when no pattern matches.
func (m *Mux) Fallback(r Router) {
	m.fallback = r
}

// Route implements Router.
func (m *Mux) Route(host, path string) Handler {
	if len(m.hosts) > 0 {
		if t, ok := m.hosts[strings.ToLower(stripPort(host))]; ok {
			if h := bind(t, path); h != nil {
				return h
			}
		}
	}
	if h := bind(m.all, path); h != nil {
		return h
	}
	if m.fallback != nil {
		return m.fallback.Route(host, path)
	}
	return nil
}

// bind looks path up in t. Captured parameters are copied, because path
// does not outlive the call while the handler may be cached.
func bind(t *router.Tree[Handler], path string) Handler {
	h, ps, ok := t.Find(path)
	if !ok {
		return nil
	}
	if len(ps) == 0 {
		return h
	}
	for i := range ps {
		ps[i].Value = strings.Clone(ps[i].Value)
	}
	return &boundHandler{h: h, params: ps}
}

// boundHandler is a routed handler together with the parameters of the
// path it was resolved for.
type boundHandler struct {
	h      Handler
	params router.Params
}

func (b *boundHandler) ServeConn(c *Conn) error {
	c.params = b.params
	return b.h.ServeConn(c)
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.HasSuffix(host, "]") {
		return host[:i]
	}
	return host
}
