package http

import (
	"bytes"
	"unsafe"
)

// unsafeString converts byte slice to string without allocation
// WARNING: The returned string shares memory with the byte slice
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Header is one request header line.
type Header struct {
	Name  string
	Value string
}

// QueryParam is one decoded query string pair.
type QueryParam struct {
	Name  string
	Value string
}

// Request is the public view of a parsed request.
//
// All strings and the body live in a request-owned store that is reused by
// the next request on the same connection; copy anything that must outlive
// the handler invocation.
type Request struct {
	Method   string
	Host     string
	Path     string
	RawQuery string
	Proto    string
	Headers  []Header
	Query    []QueryParam
	Body     []byte

	// KeepAlive is false only when the client sent "Connection: close".
	KeepAlive bool

	store []byte
}

// Reset clears the request for reuse (memory not freed, just reset)
func (r *Request) Reset() {
	r.Method = ""
	r.Host = ""
	r.Path = ""
	r.RawQuery = ""
	r.Proto = ""
	for i := range r.Headers {
		r.Headers[i] = Header{}
	}
	r.Headers = r.Headers[:0]
	for i := range r.Query {
		r.Query[i] = QueryParam{}
	}
	r.Query = r.Query[:0]
	r.Body = nil
	r.KeepAlive = false
	r.store = r.store[:0]
}

// Load copies the parser's current request into r, so the parser is free to
// compact or grow its buffer afterwards.
func (r *Request) Load(p *Parser) {
	r.Reset()

	path := p.Path()
	var rawQuery []byte
	if q := bytes.IndexByte(path, '?'); q >= 0 {
		path, rawQuery = path[:q], path[q+1:]
	}

	// size the store up front so that appends never move strings already
	// handed out
	need := len(p.Verb()) + len(p.Host()) + len(path) + 2*len(rawQuery) +
		len(p.Proto()) + len(p.Body())
	for i := range p.headers {
		name, value := p.Header(i)
		need += len(name) + len(value)
	}
	if cap(r.store) < need {
		r.store = make([]byte, 0, need)
	}

	r.Method = r.keep(p.Verb())
	r.Host = r.keep(p.Host())
	r.Path = r.keep(path)
	r.RawQuery = r.keep(rawQuery)
	r.Proto = r.keep(p.Proto())
	for i := range p.headers {
		name, value := p.Header(i)
		r.Headers = append(r.Headers, Header{Name: r.keep(name), Value: r.keep(value)})
	}
	if body := p.Body(); len(body) > 0 {
		start := len(r.store)
		r.store = append(r.store, body...)
		r.Body = r.store[start:len(r.store):len(r.store)]
	}
	r.parseQuery(rawQuery)

	r.KeepAlive = keepAlive(r.Header("connection"))
}

func (r *Request) keep(b []byte) string {
	start := len(r.store)
	r.store = append(r.store, b...)
	return unsafeString(r.store[start:])
}

// keepDecoded copies b into the store and URL-decodes it in place.
func (r *Request) keepDecoded(b []byte) string {
	start := len(r.store)
	r.store = append(r.store, b...)
	n := unescapeInPlace(r.store[start:])
	r.store = r.store[:start+n]
	return unsafeString(r.store[start:])
}

func (r *Request) parseQuery(raw []byte) {
	for len(raw) > 0 {
		var piece []byte
		if i := bytes.IndexByte(raw, '&'); i >= 0 {
			piece, raw = raw[:i], raw[i+1:]
		} else {
			piece, raw = raw, nil
		}
		if len(piece) == 0 {
			continue
		}

		name, value := piece, piece[:0]
		if i := bytes.IndexByte(piece, '='); i >= 0 {
			name, value = piece[:i], piece[i+1:]
		}
		r.Query = append(r.Query, QueryParam{
			Name:  r.keepDecoded(name),
			Value: r.keepDecoded(value),
		})
	}
}

// Header returns the first header with the given name (case-insensitive),
// or "" when absent. Header counts are small, so this is a linear scan.
func (r *Request) Header(name string) string {
	for i := range r.Headers {
		if equalFoldString(r.Headers[i].Name, name) {
			return r.Headers[i].Value
		}
	}
	return ""
}

// HeaderCount returns the number of request headers.
func (r *Request) HeaderCount() int {
	return len(r.Headers)
}

// QueryValue returns the first decoded value for name.
func (r *Request) QueryValue(name string) (string, bool) {
	for i := range r.Query {
		if r.Query[i].Name == name {
			return r.Query[i].Value, true
		}
	}
	return "", false
}

// keepAlive holds for every well-formed request unless the client sent
// "Connection: close", whatever the protocol version.
func keepAlive(connection string) bool {
	return !equalFoldString(connection, "close")
}

func equalFoldString(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
