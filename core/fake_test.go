package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/spserver/core/loop"
	"golang.org/x/sys/unix"
)

var errFakeWrite = errors.New("fake: write failed")

// testDate is a Tuesday; its Date line is testDateLine.
var testDate = time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)

const testDateLine = "Date: Tue, 05 Mar 2024 07:08:09 GMT\r\n"

type fakeCompletion struct {
	s   *fakeSocket
	cb  func(int, error)
	n   int
	err error
}

// fakeLoop queues completions like loop.Loop: nothing runs until run is
// called, and callbacks of closed sockets are dropped.
type fakeLoop struct {
	sockets []*fakeSocket
	queue   []fakeCompletion
	nextFd  int
}

var _ loop.EventLoop = (*fakeLoop)(nil)

func (l *fakeLoop) Open(fd int) (loop.Socket, error) {
	return l.socket(), nil
}

func (l *fakeLoop) socket() *fakeSocket {
	l.nextFd++
	s := &fakeSocket{l: l, fd: l.nextFd}
	l.sockets = append(l.sockets, s)
	return s
}

func (l *fakeLoop) Accept(fd int, cb func(int, error)) error { return nil }
func (l *fakeLoop) Every(d time.Duration, cb func(time.Time)) {}

func (l *fakeLoop) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (l *fakeLoop) post(s *fakeSocket, cb func(int, error), n int, err error) {
	l.queue = append(l.queue, fakeCompletion{s: s, cb: cb, n: n, err: err})
}

// run delivers input and completions until nothing is left to do.
func (l *fakeLoop) run() {
	for {
		for _, s := range l.sockets {
			s.tryRead()
		}
		if len(l.queue) == 0 {
			return
		}
		batch := l.queue
		l.queue = nil
		for _, c := range batch {
			if !c.s.closed {
				c.cb(c.n, c.err)
			}
		}
	}
}

type fakeSocket struct {
	l  *fakeLoop
	fd int

	in      []byte
	eof     bool
	maxRead int
	out     strings.Builder

	rbuf []byte
	rcb  func(int, error)

	failWrites bool
	writes     int
	shutdown   bool
	closed     bool
}

var _ loop.Socket = (*fakeSocket)(nil)

func (s *fakeSocket) Fd() int { return s.fd }

func (s *fakeSocket) feed(data string) {
	s.in = append(s.in, data...)
}

func (s *fakeSocket) Recv(buf []byte, cb func(int, error)) {
	if s.closed {
		return
	}
	if s.rcb != nil {
		panic("fake: overlapping Recv")
	}
	s.rbuf, s.rcb = buf, cb
}

func (s *fakeSocket) tryRead() {
	if s.rcb == nil || s.closed {
		return
	}
	switch {
	case len(s.in) > 0:
		buf := s.rbuf
		if s.maxRead > 0 && len(buf) > s.maxRead {
			buf = buf[:s.maxRead]
		}
		n := copy(buf, s.in)
		s.in = s.in[n:]
		s.l.post(s, s.rcb, n, nil)
	case s.eof:
		s.l.post(s, s.rcb, 0, nil)
	default:
		return
	}
	s.rbuf, s.rcb = nil, nil
}

func (s *fakeSocket) WritevAll(bufs [][]byte, cb func(int, error)) {
	if s.closed {
		return
	}
	s.writes++
	if s.failWrites {
		s.l.post(s, cb, 0, errFakeWrite)
		return
	}
	n := 0
	for _, b := range bufs {
		s.out.Write(b)
		n += len(b)
	}
	s.l.post(s, cb, n, nil)
}

func (s *fakeSocket) SendFile(src int, offset int64, count int, cb func(int, error)) {
	if s.closed {
		return
	}
	buf := make([]byte, count)
	n, err := unix.Pread(src, buf, offset)
	if err == nil {
		s.out.Write(buf[:n])
	}
	s.l.post(s, cb, n, err)
}

func (s *fakeSocket) ShutdownWrite() error {
	s.shutdown = true
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

// newTestWorker creates a worker on a fake loop with its Date line set to
// testDate.
func newTestWorker(t *testing.T, cfg WorkerConfig) (*Worker, *fakeLoop) {
	t.Helper()
	l := &fakeLoop{}
	cfg.OnFatal = func(err error) { t.Errorf("fatal: %v", err) }
	w, err := NewWorker(l, cfg)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	w.Tick(testDate)
	t.Cleanup(w.Close)
	return w, l
}

// connect serves a new fake socket and returns it.
func connect(w *Worker, l *fakeLoop) *fakeSocket {
	s := l.socket()
	w.Serve(s)
	return s
}

// okResponse is the exact keep-alive response for a default handler body.
func okResponse(body string) string {
	return "HTTP/1.1 200 OK\r\n" +
		"Connection: keep-alive\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		testDateLine + "\r\n" + body
}

func get(path string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: example.com\r\n\r\n"
}
