package core

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/searchktools/spserver/core/filecache"
	"golang.org/x/sys/unix"
)

// Static returns a router that serves files below the worker's file cache
// base path. Each routed handler holds a reference to its cache entry for
// as long as the route cache keeps it.
func (w *Worker) Static() Router {
	return staticRouter{w.files}
}

type staticRouter struct {
	files *filecache.Cache
}

func (s staticRouter) Route(host, path string) Handler {
	return &fileHandler{ref: s.files.Acquire(strings.Clone(path))}
}

type fileHandler struct {
	ref *filecache.Ref
}

func (h *fileHandler) Release() { h.ref.Release() }

func (h *fileHandler) ServeConn(c *Conn) error {
	f := h.ref.File()
	if f == nil {
		return errors.New("core: file handler used after release")
	}

	if err := c.w.files.Ready(f); err != nil {
		code := fileErrorStatus(err)
		if code == 500 {
			c.w.log.Warn("load file", "path", f.Path(), "err", err)
		}
		c.errorPage(code, "")
		c.Finish(true)
		return nil
	}

	blob := f.Blob()
	c.Response.SetContentType(f.MIME())
	head, err := c.Response.Compose(c.w.date, blob.Size())
	if err != nil {
		return err
	}

	t := Alloc[fileTransfer](c)
	t.c = c
	t.blob = blob.Retain()
	t.chunk = c.w.files.Config().SendChunk
	t.start(head)
	return nil
}

func fileErrorStatus(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ENOTDIR):
		return 404
	case errors.Is(err, filecache.ErrNotRegular), errors.Is(err, fs.ErrPermission):
		return 403
	}
	return 500
}

// fileTransfer is the scratch object of one file response. It keeps the
// blob alive until the transfer ends, whatever happens to the cache entry.
type fileTransfer struct {
	c      *Conn
	blob   *filecache.Blob
	iov    [2][]byte
	total  int
	offset int64
	chunk  int
}

func (t *fileTransfer) Drop() {
	if t.blob != nil {
		t.blob.Release()
		t.blob = nil
	}
	t.iov = [2][]byte{}
	t.c = nil
}

func (t *fileTransfer) start(head []byte) {
	if t.blob.Mapped() {
		t.iov[0], t.iov[1] = head, t.blob.Bytes()
		t.total = len(head) + len(t.iov[1])
		t.c.sock.WritevAll(t.iov[:], t.mappedDone)
		return
	}
	t.iov[0] = head
	t.total = len(head)
	t.c.sock.WritevAll(t.iov[:1], t.headDone)
}

func (t *fileTransfer) mappedDone(n int, err error) {
	if err != nil || n != t.total {
		t.c.Abort()
		return
	}
	t.c.Finish(false)
}

func (t *fileTransfer) headDone(n int, err error) {
	if err != nil || n != t.total {
		t.c.Abort()
		return
	}
	t.sendNext()
}

func (t *fileTransfer) sendNext() {
	remaining := t.blob.Size() - t.offset
	if remaining <= 0 {
		t.c.Finish(false)
		return
	}
	count := int(min(remaining, int64(t.chunk)))
	t.c.sock.SendFile(t.blob.Fd(), t.offset, count, t.sent)
}

func (t *fileTransfer) sent(n int, err error) {
	if err != nil || n <= 0 {
		t.c.Abort()
		return
	}
	t.offset += int64(n)
	t.sendNext()
}
