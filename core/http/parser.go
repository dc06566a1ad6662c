package http

import (
	"bytes"
)

const (
	// MaxRequestSize caps the header block plus body of one request.
	MaxRequestSize = 8192

	initialBufferSize = 4096
	maxHeaders        = 128
)

var crlf = []byte("\r\n")

type parseState uint8

const (
	stateHeaders parseState = iota
	stateBody
)

// span is a [start,end) range relative to Parser.begin, so it survives
// compaction of the in-flight request to offset 0.
type span struct {
	start, end int
}

type headerSpan struct {
	name, value span
}

// Parser is an incremental HTTP/1.1 request parser over a growable buffer.
//
// The transport writes into the slice returned by BeginFill and reports the
// byte count through CommitFill; TryParse then reports whether a complete
// request (or a malformed one) is available. Cursors always satisfy
// 0 <= begin <= processed <= end <= len(buf).
type Parser struct {
	buf       []byte
	begin     int
	processed int
	end       int
	state     parseState

	requestLine span
	verb        span
	path        span
	proto       span
	host        span
	body        span
	headers     []headerSpan

	contentLength  int
	sawRequestLine bool
	complete       bool
	malformed      bool
}

// NewParser creates a parser with the default buffer size.
func NewParser() *Parser {
	p := &Parser{
		buf:     make([]byte, initialBufferSize),
		headers: make([]headerSpan, 0, 16),
	}
	p.Reset()
	return p
}

// Reset drops all buffered data.
func (p *Parser) Reset() {
	p.begin, p.processed, p.end = 0, 0, 0
	p.ClearRequest()
}

// ClearRequest forgets the current request and starts the next one at the
// first unconsumed byte, keeping any lookahead already buffered.
func (p *Parser) ClearRequest() {
	p.begin = p.processed
	p.state = stateHeaders
	p.requestLine = span{}
	p.verb = span{}
	p.path = span{}
	p.proto = span{}
	p.host = span{}
	p.body = span{}
	p.headers = p.headers[:0]
	p.contentLength = 0
	p.sawRequestLine = false
	p.complete = false
	p.malformed = false
}

// BeginFill makes room for incoming data and returns the writable tail of
// the buffer. The returned slice is never empty.
func (p *Parser) BeginFill() []byte {
	size := p.end - p.begin
	if size <= 0 {
		p.begin, p.processed, p.end = 0, 0, 0
		return p.buf
	}

	// a partial request larger than half the buffer: double it
	if size*2 > len(p.buf) {
		grown := make([]byte, len(p.buf)*2)
		copy(grown, p.buf[p.begin:p.end])
		p.buf = grown
	} else if p.begin > 0 {
		copy(p.buf, p.buf[p.begin:p.end])
	}
	p.processed -= p.begin
	p.begin = 0
	p.end = size

	return p.buf[p.end:]
}

// CommitFill records n bytes written into the slice from BeginFill.
func (p *Parser) CommitFill(n int) {
	if n < 0 || p.end+n > len(p.buf) {
		panic("http: CommitFill beyond buffer capacity")
	}
	p.end += n
}

// TryParse scans the buffered bytes. It returns true once a complete request
// is available, or once the request is known to be malformed.
func (p *Parser) TryParse() bool {
	if p.complete {
		return true
	}
	if p.state == stateBody {
		return p.tryBody()
	}

	for p.processed < p.end {
		idx := bytes.Index(p.buf[p.processed:p.end], crlf)
		if idx < 0 {
			break
		}
		lineStart := p.processed
		lineEnd := lineStart + idx
		p.processed = lineEnd + 2

		if lineStart == lineEnd {
			if !p.sawRequestLine {
				p.malformed = true
			}
			if p.malformed || p.contentLength == 0 || equalFoldASCII(p.Verb(), "get") {
				p.complete = true
				return true
			}
			p.state = stateBody
			return p.tryBody()
		}

		p.addLine(lineStart, lineEnd)
		if p.processed-p.begin > MaxRequestSize {
			return p.fail()
		}
	}

	// no terminating blank line within the size cap
	if p.end-p.begin > MaxRequestSize {
		return p.fail()
	}
	return false
}

func (p *Parser) tryBody() bool {
	headerSize := p.processed - p.begin
	if headerSize+p.contentLength > MaxRequestSize {
		return p.fail()
	}
	if p.end-p.processed < p.contentLength {
		return false
	}
	start := p.processed - p.begin
	p.body = span{start, start + p.contentLength}
	p.processed += p.contentLength
	p.complete = true
	return true
}

func (p *Parser) fail() bool {
	p.malformed = true
	p.complete = true
	p.processed = p.end
	return true
}

func (p *Parser) rel(start, end int) span {
	return span{start - p.begin, end - p.begin}
}

func (p *Parser) addLine(start, end int) {
	line := p.buf[start:end]

	if !p.sawRequestLine {
		p.sawRequestLine = true
		p.requestLine = p.rel(start, end)

		sp1 := bytes.IndexByte(line, ' ')
		if sp1 < 0 {
			p.malformed = true
			return
		}
		sp2 := bytes.IndexByte(line[sp1+1:], ' ')
		if sp2 < 0 {
			p.malformed = true
			return
		}
		sp2 += sp1 + 1

		p.verb = p.rel(start, start+sp1)
		p.path = p.rel(start+sp1+1, start+sp2)
		p.proto = p.rel(start+sp2+1, end)
		return
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		p.malformed = true
		return
	}
	colon += start

	nS, nE := p.trim(start, colon)
	vS, vE := p.trim(colon+1, end)
	name := p.buf[nS:nE]

	if equalFoldASCII(name, "content-length") {
		n, ok := parseDecimal(p.buf[vS:vE])
		if !ok {
			p.malformed = true
			return
		}
		p.contentLength = n
	}
	if equalFoldASCII(name, "host") {
		p.host = p.rel(vS, vE)
	}

	if len(p.headers) >= maxHeaders {
		p.malformed = true
		return
	}
	p.headers = append(p.headers, headerSpan{
		name:  p.rel(nS, nE),
		value: p.rel(vS, vE),
	})
}

func (p *Parser) trim(start, end int) (int, int) {
	for start < end && isSpace(p.buf[start]) {
		start++
	}
	for end > start && isSpace(p.buf[end-1]) {
		end--
	}
	return start, end
}

func (p *Parser) slice(s span) []byte {
	if s.end <= s.start {
		return nil
	}
	return p.buf[p.begin+s.start : p.begin+s.end]
}

// Malformed reports whether the current request failed to parse.
func (p *Parser) Malformed() bool { return p.malformed }

// RequestLine returns the raw first line of the request.
func (p *Parser) RequestLine() []byte { return p.slice(p.requestLine) }

func (p *Parser) Verb() []byte  { return p.slice(p.verb) }
func (p *Parser) Path() []byte  { return p.slice(p.path) }
func (p *Parser) Proto() []byte { return p.slice(p.proto) }
func (p *Parser) Host() []byte  { return p.slice(p.host) }
func (p *Parser) Body() []byte  { return p.slice(p.body) }

// ContentLength returns the declared body length.
func (p *Parser) ContentLength() int { return p.contentLength }

// HeaderCount returns the number of parsed header lines.
func (p *Parser) HeaderCount() int { return len(p.headers) }

// Header returns the i-th header as views into the buffer.
func (p *Parser) Header(i int) (name, value []byte) {
	h := p.headers[i]
	return p.slice(h.name), p.slice(h.value)
}

// HeaderValue looks a header up by name. lowerName must be lower case.
func (p *Parser) HeaderValue(lowerName string) []byte {
	for _, h := range p.headers {
		if equalFoldASCII(p.slice(h.name), lowerName) {
			return p.slice(h.value)
		}
	}
	return nil
}

// Buffered returns the bytes of the current request plus any lookahead.
func (p *Parser) Buffered() []byte {
	return p.buf[p.begin:p.end]
}

// Cursors exposes the buffer cursors and capacity.
func (p *Parser) Cursors() (begin, processed, end, capacity int) {
	return p.begin, p.processed, p.end, len(p.buf)
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	}
	return false
}

// equalFoldASCII compares b against lower, which must be lower case.
func equalFoldASCII(b []byte, lower string) bool {
	if len(b) != len(lower) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

// parseDecimal parses a non-negative decimal integer without allocating.
func parseDecimal(b []byte) (int, bool) {
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
