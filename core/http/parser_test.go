package http

import (
	"strings"
	"testing"
)

// feed writes data into the parser in chunks of size n, calling TryParse
// after every chunk, and returns whether a request completed.
func feed(t *testing.T, p *Parser, data string, n int) bool {
	t.Helper()
	done := false
	for len(data) > 0 {
		buf := p.BeginFill()
		chunk := n
		if chunk > len(buf) {
			chunk = len(buf)
		}
		if chunk > len(data) {
			chunk = len(data)
		}
		copy(buf, data[:chunk])
		p.CommitFill(chunk)
		data = data[chunk:]
		checkCursors(t, p)
		done = p.TryParse()
		checkCursors(t, p)
		if done {
			break
		}
	}
	return done
}

func checkCursors(t *testing.T, p *Parser) {
	t.Helper()
	begin, processed, end, capacity := p.Cursors()
	if !(0 <= begin && begin <= processed && processed <= end && end <= capacity) {
		t.Fatalf("cursor invariant broken: begin=%d processed=%d end=%d cap=%d",
			begin, processed, end, capacity)
	}
}

type parsed struct {
	verb, host, path string
	headers          []string
	body             string
}

func snapshot(p *Parser) parsed {
	out := parsed{
		verb: string(p.Verb()),
		host: string(p.Host()),
		path: string(p.Path()),
		body: string(p.Body()),
	}
	for i := 0; i < p.HeaderCount(); i++ {
		name, value := p.Header(i)
		out.headers = append(out.headers, string(name)+"="+string(value))
	}
	return out
}

func TestParserChunkingIdempotent(t *testing.T) {
	requests := []string{
		"GET /index.html HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n",
		"POST /submit?x=1 HTTP/1.1\r\nHost: a.b\r\nContent-Length: 11\r\n\r\nhello world",
		"GET / HTTP/1.1\r\nX-Spaces:   padded value  \r\nHOST:Upper\r\n\r\n",
	}

	for _, raw := range requests {
		whole := NewParser()
		if !feed(t, whole, raw, len(raw)) {
			t.Fatalf("request not complete when fed at once: %q", raw)
		}
		want := snapshot(whole)

		for _, size := range []int{1, 2, 3, 7, 64} {
			p := NewParser()
			if !feed(t, p, raw, size) {
				t.Fatalf("request not complete in chunks of %d: %q", size, raw)
			}
			got := snapshot(p)
			if got.verb != want.verb || got.host != want.host || got.path != want.path ||
				got.body != want.body || strings.Join(got.headers, "|") != strings.Join(want.headers, "|") {
				t.Errorf("chunk size %d: got %+v, want %+v", size, got, want)
			}
		}
	}
}

func TestParserFields(t *testing.T) {
	p := NewParser()
	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nX-Trim: \t v \r\n\r\nabcde"
	if !feed(t, p, raw, len(raw)) {
		t.Fatal("expected complete request")
	}
	if p.Malformed() {
		t.Fatal("unexpected malformed request")
	}
	if string(p.Verb()) != "POST" {
		t.Errorf("Expected verb POST, got %q", p.Verb())
	}
	if string(p.Path()) != "/submit" {
		t.Errorf("Expected path /submit, got %q", p.Path())
	}
	if string(p.Proto()) != "HTTP/1.1" {
		t.Errorf("Expected proto HTTP/1.1, got %q", p.Proto())
	}
	if string(p.Host()) != "example.com" {
		t.Errorf("Expected host example.com, got %q", p.Host())
	}
	if string(p.Body()) != "abcde" {
		t.Errorf("Expected body abcde, got %q", p.Body())
	}
	if v := string(p.HeaderValue("x-trim")); v != "v" {
		t.Errorf("Expected trimmed header value v, got %q", v)
	}
	if p.HeaderCount() != 3 {
		t.Errorf("Expected 3 headers, got %d", p.HeaderCount())
	}
}

func TestParserWaitsForBody(t *testing.T) {
	p := NewParser()
	if feed(t, p, "PUT /x HTTP/1.1\r\nContent-Length: 4\r\n\r\nab", 1024) {
		t.Fatal("request reported complete before the body arrived")
	}
	if !feed(t, p, "cd", 1024) {
		t.Fatal("request not complete after the body arrived")
	}
	if string(p.Body()) != "abcd" {
		t.Errorf("Expected body abcd, got %q", p.Body())
	}
}

func TestParserGetIgnoresContentLength(t *testing.T) {
	p := NewParser()
	if !feed(t, p, "get / HTTP/1.1\r\nContent-Length: 10\r\n\r\n", 1024) {
		t.Fatal("GET should complete at the blank line")
	}
	if len(p.Body()) != 0 {
		t.Errorf("Expected empty body, got %q", p.Body())
	}
}

func TestParserMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no separators", "BADLINE\r\n\r\n"},
		{"missing second space", "GET /path\r\n\r\n"},
		{"leading blank line", "\r\n"},
		{"header without colon", "GET / HTTP/1.1\r\nbroken header\r\n\r\n"},
		{"invalid content length", "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n"},
		{"negative content length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			if !feed(t, p, tt.raw, len(tt.raw)) {
				t.Fatal("malformed request should be reported complete")
			}
			if !p.Malformed() {
				t.Error("expected malformed flag")
			}
		})
	}
}

func TestParserOversizedHeaders(t *testing.T) {
	p := NewParser()
	raw := "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", MaxRequestSize) + "\r\n"
	if !feed(t, p, raw, 512) {
		t.Fatal("oversized request should be reported complete")
	}
	if !p.Malformed() {
		t.Error("expected oversized request to be malformed")
	}
}

func TestParserOversizedBody(t *testing.T) {
	p := NewParser()
	raw := "POST / HTTP/1.1\r\nContent-Length: 9000\r\n\r\n"
	if !feed(t, p, raw, len(raw)) {
		t.Fatal("oversized body should be reported complete")
	}
	if !p.Malformed() {
		t.Error("expected oversized body to be malformed")
	}
}

func TestParserPipelined(t *testing.T) {
	p := NewParser()
	raw := "GET /a HTTP/1.1\r\nHost: h\r\n\r\nPOST /b HTTP/1.1\r\nContent-Length: 2\r\n\r\nokGET /c HTTP/1.1\r\n\r\n"
	if !feed(t, p, raw, len(raw)) {
		t.Fatal("expected first request")
	}

	var paths []string
	for {
		paths = append(paths, string(p.Path()))
		p.ClearRequest()
		checkCursors(t, p)
		if !p.TryParse() {
			break
		}
	}

	if strings.Join(paths, ",") != "/a,/b,/c" {
		t.Errorf("Expected /a,/b,/c, got %v", paths)
	}
	if len(p.Buffered()) != 0 {
		t.Errorf("Expected no lookahead left, got %q", p.Buffered())
	}
}

func TestParserCompactsPartialRequest(t *testing.T) {
	p := NewParser()
	first := "GET /one HTTP/1.1\r\n\r\n"
	partial := "GET /two HTTP/1.1\r\nHo"

	if !feed(t, p, first+partial, 4096) {
		t.Fatal("expected first request")
	}
	p.ClearRequest()
	if p.TryParse() {
		t.Fatal("partial request reported complete")
	}

	// the next fill moves the partial request to offset 0
	p.BeginFill()
	begin, _, end, _ := p.Cursors()
	if begin != 0 || end != len(partial) {
		t.Errorf("Expected compaction to [0,%d), got [%d,%d)", len(partial), begin, end)
	}
	if string(p.Path()) != "/two" {
		t.Errorf("Expected path to survive compaction, got %q", p.Path())
	}

	if !feed(t, p, "st: x\r\n\r\n", 4096) {
		t.Fatal("expected second request to complete")
	}
	if string(p.Host()) != "x" {
		t.Errorf("Expected host x, got %q", p.Host())
	}
}

func TestParserGrowsBuffer(t *testing.T) {
	p := NewParser()
	_, _, _, before := p.Cursors()

	raw := "GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("z", before) + "\r\n\r\n"
	if !feed(t, p, raw, 1024) {
		t.Fatal("expected request to complete")
	}
	if p.Malformed() {
		t.Fatal("request below the size cap must not be malformed")
	}
	_, _, _, after := p.Cursors()
	if after <= before {
		t.Errorf("Expected buffer to grow beyond %d, got %d", before, after)
	}
}

func BenchmarkParser(b *testing.B) {
	raw := []byte("GET /hello/world HTTP/1.1\r\nHost: localhost\r\nUser-Agent: bench\r\nAccept: */*\r\n\r\n")
	p := NewParser()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Reset()
		buf := p.BeginFill()
		n := copy(buf, raw)
		p.CommitFill(n)
		if !p.TryParse() {
			b.Fatal("incomplete")
		}
	}
}
