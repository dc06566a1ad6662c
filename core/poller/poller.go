package poller

// Event is a readiness notification for one file descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool

	// Hangup reports peer shutdown or a socket error; pending reads and
	// writes should both be retried.
	Hangup bool
}

// Poller is the I/O multiplexing interface.
//
// Descriptors are registered edge-triggered for both directions, so callers
// must drain a descriptor (until EAGAIN) before waiting on it again.
type Poller interface {
	Add(fd int) error
	Remove(fd int) error
	// Wait blocks for at most timeout milliseconds (-1 blocks forever).
	// The returned slice is reused by the next call.
	Wait(timeout int) ([]Event, error)
	Close() error
}
