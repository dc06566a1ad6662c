// Package loop is a single-threaded, completion-callback event loop over
// non-blocking sockets.
//
// Every operation is attempted immediately and parked on EAGAIN until the
// poller reports readiness. Completions are never delivered re-entrantly:
// they are queued and run by Run after the current poll cycle, always on the
// goroutine that called Run.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/searchktools/spserver/core/poller"
	"golang.org/x/sys/unix"
)

// maxWait bounds a single poll so that context cancellation is noticed.
const maxWait = 100 * time.Millisecond

var ErrClosed = errors.New("loop: socket closed")

// Socket is a non-blocking stream socket driven by an EventLoop.
//
// At most one read and one write-side operation (WritevAll or SendFile) may
// be outstanding at a time.
type Socket interface {
	Fd() int
	// Recv reads at most len(buf) bytes. n == 0 with a nil error is EOF.
	Recv(buf []byte, cb func(n int, err error))
	// WritevAll writes every buffer in order; cb receives the total written.
	WritevAll(bufs [][]byte, cb func(n int, err error))
	// SendFile transfers up to count bytes of src starting at offset.
	SendFile(src int, offset int64, count int, cb func(n int, err error))
	ShutdownWrite() error
	// Close deregisters and closes the socket. Pending callbacks are dropped.
	Close() error
}

// EventLoop is what a worker needs from its event source.
type EventLoop interface {
	Open(fd int) (Socket, error)
	// Accept registers a listening socket; cb runs once per accepted fd,
	// or with a non-nil error when accepting fails.
	Accept(fd int, cb func(fd int, err error)) error
	Every(d time.Duration, cb func(now time.Time))
	Run(ctx context.Context) error
}

type completion struct {
	s   *socket
	cb  func(int, error)
	n   int
	err error
}

type timer struct {
	every time.Duration
	next  time.Time
	cb    func(time.Time)
}

// Loop implements EventLoop on top of a poller.Poller.
type Loop struct {
	poller    poller.Poller
	sockets   map[int]*socket
	listeners map[int]func(int, error)
	ready     []completion
	spare     []completion
	timers    []*timer
	now       func() time.Time
}

var _ EventLoop = (*Loop)(nil)

// New creates a loop backed by the platform poller.
func New() (*Loop, error) {
	p, err := poller.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("loop: create poller: %w", err)
	}
	return &Loop{
		poller:    p,
		sockets:   make(map[int]*socket, 1024),
		listeners: make(map[int]func(int, error)),
		ready:     make([]completion, 0, 256),
		spare:     make([]completion, 0, 256),
		now:       time.Now,
	}, nil
}

// Open registers an accepted (or otherwise connected) descriptor.
func (l *Loop) Open(fd int) (Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	// Fails harmlessly on non-TCP sockets.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	if err := l.poller.Add(fd); err != nil {
		return nil, err
	}
	s := &socket{l: l, fd: fd, sfSrc: -1}
	l.sockets[fd] = s
	return s, nil
}

// Accept starts accepting connections on a listening descriptor.
func (l *Loop) Accept(fd int, cb func(fd int, err error)) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	if err := l.poller.Add(fd); err != nil {
		return err
	}
	l.listeners[fd] = cb
	l.acceptAll(fd, cb)
	return nil
}

func (l *Loop) acceptAll(fd int, cb func(int, error)) {
	for {
		nfd, err := accept(fd)
		switch err {
		case nil:
			cb(nfd, nil)
		case unix.EAGAIN:
			return
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			cb(-1, err)
			return
		}
	}
}

// Every runs cb on the loop goroutine once per d.
func (l *Loop) Every(d time.Duration, cb func(now time.Time)) {
	l.timers = append(l.timers, &timer{every: d, next: l.now().Add(d), cb: cb})
}

// Len returns the number of open sockets.
func (l *Loop) Len() int {
	return len(l.sockets)
}

// Run processes events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		events, err := l.poller.Wait(l.timeout())
		if err != nil {
			return fmt.Errorf("loop: poller wait: %w", err)
		}
		for _, ev := range events {
			l.dispatch(ev)
		}

		l.runTimers(l.now())
		l.drain()
	}
}

// Close closes every socket, listener and the poller.
func (l *Loop) Close() error {
	for _, s := range l.sockets {
		s.Close()
	}
	for fd := range l.listeners {
		l.poller.Remove(fd)
		delete(l.listeners, fd)
	}
	return l.poller.Close()
}

func (l *Loop) timeout() int {
	if len(l.ready) > 0 {
		return 0
	}
	wait := maxWait
	if len(l.timers) > 0 {
		now := l.now()
		for _, t := range l.timers {
			if d := t.next.Sub(now); d < wait {
				wait = d
			}
		}
	}
	if wait < 0 {
		return 0
	}
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

func (l *Loop) dispatch(ev poller.Event) {
	if cb, ok := l.listeners[ev.Fd]; ok {
		l.acceptAll(ev.Fd, cb)
		return
	}
	s, ok := l.sockets[ev.Fd]
	if !ok {
		return
	}
	// a hangup retries both directions so pending operations see EOF or
	// the socket error
	if (ev.Readable || ev.Hangup) && s.rcb != nil {
		s.tryRead()
	}
	if (ev.Writable || ev.Hangup) && !s.closed {
		if s.wcb != nil {
			s.tryWrite()
		} else if s.sfcb != nil {
			s.trySendFile()
		}
	}
}

func (l *Loop) runTimers(now time.Time) {
	for _, t := range l.timers {
		if now.Before(t.next) {
			continue
		}
		t.cb(now)
		t.next = t.next.Add(t.every)
		// a stalled loop skips missed ticks instead of bursting
		if !now.Before(t.next) {
			t.next = now.Add(t.every)
		}
	}
}

func (l *Loop) post(s *socket, cb func(int, error), n int, err error) {
	l.ready = append(l.ready, completion{s: s, cb: cb, n: n, err: err})
}

// drain runs one batch of completions; anything they post waits for the
// next cycle.
func (l *Loop) drain() {
	if len(l.ready) == 0 {
		return
	}
	batch := l.ready
	l.ready = l.spare[:0]
	for i := range batch {
		c := batch[i]
		batch[i] = completion{}
		if c.s.closed {
			continue
		}
		c.cb(c.n, c.err)
	}
	l.spare = batch[:0]
}
