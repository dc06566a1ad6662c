package core

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/searchktools/spserver/core/filecache"
)

func newStaticWorker(t *testing.T) (*Worker, *fakeLoop, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":     "<p>home</p>",
		"notes.txt":      "plain notes",
		"big.bin":        strings.Repeat("0123456789", 10),
		"empty.css":      "",
		"dir/nested.txt": "nested",
	}
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, l := newTestWorker(t, WorkerConfig{
		FileCache: filecache.Config{
			BasePath:    dir,
			MaxMmapSize: 32,
			SendChunk:   7,
		},
	})
	return w, l, dir
}

func fileResponse(contentType, body string) string {
	return "HTTP/1.1 200 OK\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		testDateLine + "\r\n" + body
}

func TestStaticMapped(t *testing.T) {
	w, l, _ := newStaticWorker(t)

	s := connect(w, l)
	s.feed(get("/index.html") + get("/notes.txt"))
	l.run()

	want := fileResponse("text/html; charset=utf-8", "<p>home</p>") +
		fileResponse("text/plain; charset=utf-8", "plain notes")
	if got := s.out.String(); got != want {
		t.Errorf("Expected\n%q\ngot\n%q", want, got)
	}
	if w.files.Loaded() != 2 {
		t.Errorf("Expected 2 loaded files, got %d", w.files.Loaded())
	}
}

func TestStaticSendFile(t *testing.T) {
	w, l, _ := newStaticWorker(t)

	s := connect(w, l)
	s.feed(get("/big.bin") + get("/dir/nested.txt"))
	l.run()

	body := strings.Repeat("0123456789", 10)
	want := fileResponse(filecache.DefaultMIMEType, body) +
		fileResponse("text/plain; charset=utf-8", "nested")
	if got := s.out.String(); got != want {
		t.Errorf("Expected\n%q\ngot\n%q", want, got)
	}
	if s.closed {
		t.Error("Connection closed after a file transfer")
	}
}

func TestStaticEmptyFile(t *testing.T) {
	w, l, _ := newStaticWorker(t)

	s := connect(w, l)
	s.feed(get("/empty.css"))
	l.run()

	if got, want := s.out.String(), fileResponse("text/css; charset=utf-8", ""); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestStaticErrors(t *testing.T) {
	w, l, _ := newStaticWorker(t)

	tests := []struct {
		path   string
		status string
	}{
		{"/missing.txt", "404 Not Found"},
		{"/notes.txt/below", "404 Not Found"},
		{"/dir", "403 Forbidden"},
		{"/../../etc/passwd", "404 Not Found"},
	}
	for _, tt := range tests {
		s := connect(w, l)
		s.feed(get(tt.path))
		l.run()

		if want := "HTTP/1.1 " + tt.status + "\r\n"; !strings.HasPrefix(s.out.String(), want) {
			t.Errorf("%s: expected %q, got %q", tt.path, want, s.out.String())
		}
		if s.closed {
			t.Errorf("%s: connection closed after an error page", tt.path)
		}
	}
}

func TestStaticRouteHoldsFile(t *testing.T) {
	w, l, _ := newStaticWorker(t)

	s := connect(w, l)
	s.feed(get("/notes.txt"))
	l.run()

	// the cached route keeps a reference, so the file stays off the free list
	f := w.files.Acquire("/notes.txt")
	if f.File().Refs() != 2 {
		t.Errorf("Expected 2 references, got %d", f.File().Refs())
	}
	f.Release()

	w.routes.Clear()
	if n := w.files.Len(); n != 1 {
		t.Errorf("Expected the loaded file to stay cached, got %d entries", n)
	}

	// a later request routes again and still finds the file
	s.feed(get("/notes.txt"))
	l.run()
	if !strings.HasSuffix(s.out.String(), "plain notes") {
		t.Errorf("Unexpected response: %q", s.out.String())
	}
}

func TestStaticAbortReleasesTransfer(t *testing.T) {
	w, l, _ := newStaticWorker(t)

	s := connect(w, l)
	s.failWrites = true
	s.feed(get("/big.bin"))
	l.run()

	if !s.closed {
		t.Error("Connection not aborted after a failed write")
	}
	if w.Active() != 0 {
		t.Errorf("Expected no active connections, got %d", w.Active())
	}
}

func TestMuxFallbackToStatic(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("run()"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, l := newTestWorker(t, WorkerConfig{
		FileCache: filecache.Config{BasePath: dir},
		NewRouter: func(w *Worker) Router {
			mux := NewMux()
			mux.Handle("/api/:name", HandlerFunc(func(c *Conn) error {
				c.Reply(200, "text/plain", "api "+c.Param("name"))
				return nil
			}))
			mux.Fallback(w.Static())
			return mux
		},
	})

	s := connect(w, l)
	s.feed(get("/api/users") + get("/app.js"))
	l.run()

	out := s.out.String()
	if !strings.Contains(out, "\r\n\r\napi users") {
		t.Errorf("API route not served: %q", out)
	}
	if !strings.HasSuffix(out, "Content-Type: application/javascript; charset=utf-8\r\nContent-Length: 5\r\n"+testDateLine+"\r\nrun()") {
		t.Errorf("Static fallback not served: %q", out)
	}
}

func TestFileErrorStatus(t *testing.T) {
	if got := fileErrorStatus(&filecache.LoadError{Op: "open", Path: "x", Err: filecache.ErrNotRegular}); got != 403 {
		t.Errorf("Expected 403, got %d", got)
	}
	if got := fileErrorStatus(os.ErrNotExist); got != 404 {
		t.Errorf("Expected 404, got %d", got)
	}
	if got := fileErrorStatus(os.ErrClosed); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
}
