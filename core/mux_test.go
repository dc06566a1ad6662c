package core

import (
	"testing"
	"unsafe"
)

// serve runs the routed handler for host and path on a bare Conn and
// returns what it recorded.
func serve(t *testing.T, r Router, host, path string) string {
	t.Helper()
	h := r.Route(host, path)
	if h == nil {
		return "<nil>"
	}
	c := &Conn{}
	if err := h.ServeConn(c); err != nil {
		t.Fatalf("ServeConn: %v", err)
	}
	return string(c.Response.Body)
}

func tag(name string) Handler {
	return HandlerFunc(func(c *Conn) error {
		c.Response.WriteString(name)
		for _, p := range c.Params() {
			c.Response.WriteString(" " + p.Key + "=" + p.Value)
		}
		return nil
	})
}

func TestMuxRoute(t *testing.T) {
	mux := NewMux()
	mux.Handle("/", tag("root"))
	mux.Handle("/users", tag("users"))
	mux.Handle("/users/:id", tag("user"))
	mux.Handle("/users/:id/posts/:post", tag("post"))
	mux.Handle("/static/*file", tag("static"))
	mux.HandleFunc("/health", func(c *Conn) error {
		c.Response.WriteString("ok")
		return nil
	})
	mux.HandleHost("api.example.com", "/users", tag("api users"))

	tests := []struct {
		host, path string
		want       string
	}{
		{"example.com", "/", "root"},
		{"example.com", "/users", "users"},
		{"example.com", "/users/42", "user id=42"},
		{"example.com", "/users/42/posts/7", "post id=42 post=7"},
		{"example.com", "/static/css/site.css", "static file=css/site.css"},
		{"example.com", "/health", "ok"},
		{"example.com", "/nothing", "<nil>"},
		{"api.example.com", "/users", "api users"},
		{"API.example.com:8080", "/users", "api users"},
		{"api.example.com", "/users/1", "user id=1"},
		{"other.org:80", "/users", "users"},
	}
	for _, tt := range tests {
		if got := serve(t, mux, tt.host, tt.path); got != tt.want {
			t.Errorf("Route(%q, %q) = %q, want %q", tt.host, tt.path, got, tt.want)
		}
	}
}

func TestMuxParamsOutliveThePath(t *testing.T) {
	mux := NewMux()
	mux.Handle("/items/:name", tag("item"))

	buf := []byte("/items/first")
	h := mux.Route("", unsafe.String(&buf[0], len(buf)))
	copy(buf, "/items/xxxxx")

	c := &Conn{}
	h.ServeConn(c)
	if got := string(c.Response.Body); got != "item name=first" {
		t.Errorf("Expected item name=first, got %q", got)
	}
}

func TestMuxFallback(t *testing.T) {
	mux := NewMux()
	mux.Handle("/known", tag("known"))
	mux.Fallback(RouterFunc(func(host, path string) Handler {
		return tag("fallback " + path)
	}))

	if got := serve(t, mux, "", "/known"); got != "known" {
		t.Errorf("Expected known, got %q", got)
	}
	if got := serve(t, mux, "", "/elsewhere"); got != "fallback /elsewhere" {
		t.Errorf("Expected fallback, got %q", got)
	}
}

func TestStripPort(t *testing.T) {
	tests := []struct{ in, want string }{
		{"example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"[::1]:8080", "[::1]"},
		{"[::1]", "[::1]"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripPort(tt.in); got != tt.want {
			t.Errorf("stripPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
