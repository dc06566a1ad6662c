package core

// Scratch is the per-connection slot for one short-lived handler object
// per request, plus a reusable byte region.
type Scratch struct {
	obj  any
	used bool
	drop Dropper
	buf  []byte
}

// Alloc returns a zeroed *T from c's scratch slot, reusing the previous
// object when it had the same type. Only one object may be allocated per
// request; a second call panics with ErrScratchInUse. If *T implements
// Dropper, Drop is called automatically when the request is finished or
// aborted.
func Alloc[T any](c *Conn) *T {
	s := &c.scratch
	if s.used {
		panic(ErrScratchInUse)
	}

	p, ok := s.obj.(*T)
	if ok {
		var zero T
		*p = zero
	} else {
		p = new(T)
		s.obj = p
	}
	s.used = true
	if d, ok := any(p).(Dropper); ok {
		s.drop = d
	}
	return p
}

// Bytes returns a region of n bytes, growing the backing array by
// doubling. The contents are not cleared between requests.
func (s *Scratch) Bytes(n int) []byte {
	if cap(s.buf) < n {
		size := max(cap(s.buf)*2, 256)
		for size < n {
			size *= 2
		}
		s.buf = make([]byte, size)
	}
	return s.buf[:n]
}

// release runs the recorded Drop and frees the slot for the next request.
func (s *Scratch) release() {
	d := s.drop
	s.drop = nil
	s.used = false
	if d != nil {
		d.Drop()
	}
}
