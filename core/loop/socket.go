package loop

import (
	"io"

	"golang.org/x/sys/unix"
)

type socket struct {
	l      *Loop
	fd     int
	closed bool

	rbuf []byte
	rcb  func(int, error)

	wv  [][]byte
	wn  int
	wcb func(int, error)

	sfSrc   int
	sfOff   int64
	sfCount int
	sfcb    func(int, error)
}

func (s *socket) Fd() int { return s.fd }

func (s *socket) Recv(buf []byte, cb func(int, error)) {
	if s.closed {
		return
	}
	s.rbuf, s.rcb = buf, cb
	s.tryRead()
}

func (s *socket) tryRead() {
	for {
		n, err := unix.Read(s.fd, s.rbuf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			n = 0
		}
		cb := s.rcb
		s.rbuf, s.rcb = nil, nil
		s.l.post(s, cb, n, err)
		return
	}
}

func (s *socket) WritevAll(bufs [][]byte, cb func(int, error)) {
	if s.closed {
		return
	}
	s.wv = s.wv[:0]
	for _, b := range bufs {
		if len(b) > 0 {
			s.wv = append(s.wv, b)
		}
	}
	s.wn = 0
	s.wcb = cb
	s.tryWrite()
}

func (s *socket) tryWrite() {
	for len(s.wv) > 0 {
		n, err := writev(s.fd, s.wv)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err == nil && n <= 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			s.completeWrite(err)
			return
		}
		s.wn += n
		s.consume(n)
	}
	s.completeWrite(nil)
}

// consume drops n written bytes from the front of the pending vector.
func (s *socket) consume(n int) {
	i := 0
	for i < len(s.wv) && n >= len(s.wv[i]) {
		n -= len(s.wv[i])
		s.wv[i] = nil
		i++
	}
	if i < len(s.wv) && n > 0 {
		s.wv[i] = s.wv[i][n:]
	}
	rest := copy(s.wv, s.wv[i:])
	for j := rest; j < len(s.wv); j++ {
		s.wv[j] = nil
	}
	s.wv = s.wv[:rest]
}

func (s *socket) completeWrite(err error) {
	cb, n := s.wcb, s.wn
	s.wcb, s.wn = nil, 0
	for i := range s.wv {
		s.wv[i] = nil
	}
	s.wv = s.wv[:0]
	s.l.post(s, cb, n, err)
}

func (s *socket) SendFile(src int, offset int64, count int, cb func(int, error)) {
	if s.closed {
		return
	}
	s.sfSrc, s.sfOff, s.sfCount, s.sfcb = src, offset, count, cb
	s.trySendFile()
}

func (s *socket) trySendFile() {
	for {
		off := s.sfOff
		n, err := unix.Sendfile(s.fd, s.sfSrc, &off, s.sfCount)
		if n > 0 {
			s.completeSendFile(n, nil)
			return
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return
		case nil:
			s.completeSendFile(0, io.ErrUnexpectedEOF)
		default:
			s.completeSendFile(0, err)
		}
		return
	}
}

func (s *socket) completeSendFile(n int, err error) {
	cb := s.sfcb
	s.sfSrc, s.sfOff, s.sfCount, s.sfcb = -1, 0, 0, nil
	s.l.post(s, cb, n, err)
}

func (s *socket) ShutdownWrite() error {
	if s.closed {
		return ErrClosed
	}
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

func (s *socket) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.rbuf, s.rcb = nil, nil
	s.wv, s.wcb = nil, nil
	s.sfcb = nil
	s.l.poller.Remove(s.fd)
	delete(s.l.sockets, s.fd)
	return unix.Close(s.fd)
}
