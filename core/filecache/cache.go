// Package filecache keeps static files open or mapped for serving, with
// reference counting and a capacity that adapts to the request mix.
//
// A Cache belongs to one worker and is not safe for concurrent use.
package filecache

import (
	"container/list"
	"errors"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNotRegular is recorded when the requested path is not a regular file.
var ErrNotRegular = errors.New("filecache: not a regular file")

// LoadError records a failed load or revalidation of a cached file.
type LoadError struct {
	Op   string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return "filecache: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Config holds cache settings. Zero fields take the defaults.
type Config struct {
	BasePath           string
	MaxMmapSize        int64
	MinCapacity        int
	InitialCapacity    int
	MaxCapacity        int
	TargetHitRatio     int
	StaleCheckInterval time.Duration
	MaxPurgePerTick    int
	SendChunk          int
	MIMETypes          map[string]string
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		BasePath:           ".",
		MaxMmapSize:        4 << 20,
		MinCapacity:        32,
		InitialCapacity:    128,
		MaxCapacity:        4096,
		TargetHitRatio:     20,
		StaleCheckInterval: 2 * time.Second,
		MaxPurgePerTick:    128,
		SendChunk:          16 << 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}
	if c.MaxMmapSize <= 0 {
		c.MaxMmapSize = d.MaxMmapSize
	}
	if c.MinCapacity <= 0 {
		c.MinCapacity = d.MinCapacity
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = d.MaxCapacity
	}
	if c.MaxCapacity < c.MinCapacity {
		c.MaxCapacity = c.MinCapacity
	}
	if c.InitialCapacity <= 0 {
		c.InitialCapacity = d.InitialCapacity
	}
	c.InitialCapacity = min(max(c.InitialCapacity, c.MinCapacity), c.MaxCapacity)
	if c.TargetHitRatio <= 0 {
		c.TargetHitRatio = d.TargetHitRatio
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = d.StaleCheckInterval
	}
	if c.MaxPurgePerTick <= 0 {
		c.MaxPurgePerTick = d.MaxPurgePerTick
	}
	if c.SendChunk <= 0 {
		c.SendChunk = d.SendChunk
	}
	return c
}

// Blob is the loaded representation of a file: mapped bytes or an open
// descriptor. The owning File holds one reference while loaded and each
// in-flight transfer holds another, so unloading never invalidates memory
// a pending write still points at.
type Blob struct {
	data []byte
	fd   int
	size int64
	refs int
}

// Mapped reports whether the contents are memory mapped.
func (b *Blob) Mapped() bool { return b.fd < 0 }

// Bytes returns the mapped contents; nil for descriptor-backed blobs.
func (b *Blob) Bytes() []byte { return b.data }

// Fd returns the open descriptor, or -1 for mapped blobs.
func (b *Blob) Fd() int { return b.fd }

// Size returns the file size at load time.
func (b *Blob) Size() int64 { return b.size }

// Retain adds a reference.
func (b *Blob) Retain() *Blob {
	b.refs++
	return b
}

// Release drops a reference, unmapping or closing on the last one.
func (b *Blob) Release() {
	if b.refs <= 0 {
		return
	}
	b.refs--
	if b.refs > 0 {
		return
	}
	if b.data != nil {
		unix.Munmap(b.data)
		b.data = nil
	}
	if b.fd >= 0 {
		unix.Close(b.fd)
		b.fd = -1
	}
}

// File is one cache entry, identified by its request path.
type File struct {
	key  string
	path string

	refs    int
	blob    *Blob
	mime    string
	modTime int64
	size    int64
	checked time.Time
	err     error

	// position in the free list; set iff refs == 0 and loaded
	elem *list.Element
}

func (f *File) Key() string    { return f.key }
func (f *File) Path() string   { return f.path }
func (f *File) MIME() string   { return f.mime }
func (f *File) Size() int64    { return f.size }
func (f *File) Loaded() bool   { return f.blob != nil }
func (f *File) Err() error     { return f.err }
func (f *File) Refs() int      { return f.refs }
func (f *File) ModTime() int64 { return f.modTime }

// Blob returns the loaded representation, or nil when unloaded.
func (f *File) Blob() *Blob { return f.blob }

// Ref is a counted reference to a File. While any Ref is held the entry is
// neither destroyed nor evicted, though it may be unloaded and reloaded.
type Ref struct {
	cache *Cache
	file  *File
}

// File returns the referenced entry, or nil after Release.
func (r *Ref) File() *File { return r.file }

// Release drops the reference. Further calls do nothing.
func (r *Ref) Release() {
	if r.file == nil {
		return
	}
	f := r.file
	r.file = nil
	r.cache.put(f)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Files         int
	Loaded        int
	Capacity      int
	Requests      uint64
	Loads         uint64
	LoadErrors    uint64
	Evictions     uint64
	Invalidations uint64
}

// Cache maps request paths under BasePath to loaded files.
type Cache struct {
	cfg   Config
	files map[string]*File
	free  *list.List

	loaded   int
	capacity int

	// reset on every Tick
	requests int
	loads    int

	stats Stats
	now   func() time.Time
}

// New creates a cache.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:      cfg,
		files:    make(map[string]*File),
		free:     list.New(),
		capacity: cfg.InitialCapacity,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for staleness checks.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) Config() Config { return c.cfg }

// Capacity returns the current target number of loaded files.
func (c *Cache) Capacity() int { return c.capacity }

// Loaded returns the number of loaded files.
func (c *Cache) Loaded() int { return c.loaded }

// Len returns the number of entries, loaded or not.
func (c *Cache) Len() int { return len(c.files) }

// Stats returns cumulative counters and current sizes.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Files = len(c.files)
	s.Loaded = c.loaded
	s.Capacity = c.capacity
	return s
}

// Acquire returns a reference to the entry for key, creating an unloaded
// entry on a miss. Call Ready before serving.
func (c *Cache) Acquire(key string) *Ref {
	f, ok := c.files[key]
	if !ok {
		f = &File{
			key:  key,
			path: c.resolve(key),
		}
		c.files[key] = f
	}
	if f.refs == 0 && f.elem != nil {
		c.free.Remove(f.elem)
		f.elem = nil
	}
	f.refs++
	return &Ref{cache: c, file: f}
}

// resolve maps a request path to a file below BasePath. Cleaning it as
// rooted keeps ".." from escaping.
func (c *Cache) resolve(key string) string {
	return filepath.Join(c.cfg.BasePath, filepath.FromSlash(path.Clean("/"+key)))
}

func (c *Cache) put(f *File) {
	f.refs--
	if f.refs > 0 {
		return
	}
	if f.blob != nil {
		f.elem = c.free.PushBack(f)
		return
	}
	delete(c.files, f.key)
}

// Ready counts a request for f, revalidates it when the staleness interval
// has passed and loads it if needed. It returns the recorded load error.
func (c *Cache) Ready(f *File) error {
	c.requests++
	c.stats.Requests++

	now := c.now()
	if f.blob != nil && now.Sub(f.checked) >= c.cfg.StaleCheckInterval {
		if !c.revalidate(f, now) {
			return f.err
		}
	}
	if f.blob == nil {
		c.load(f, now)
	}
	return f.err
}

// revalidate stats the file and unloads it when it changed. It returns
// false when stat failed.
func (c *Cache) revalidate(f *File, now time.Time) bool {
	f.checked = now

	var st unix.Stat_t
	if err := unix.Stat(f.path, &st); err != nil {
		f.err = &LoadError{Op: "stat", Path: f.path, Err: err}
		c.stats.LoadErrors++
		c.unload(f)
		return false
	}
	if modTime(&st) != f.modTime || st.Size != f.size {
		c.stats.Invalidations++
		c.unload(f)
	}
	return true
}

func (c *Cache) load(f *File, now time.Time) {
	c.countLoad()
	f.checked = now

	blob, st, err := c.open(f.path)
	if err != nil {
		f.err = err
		c.stats.LoadErrors++
		return
	}

	f.blob = blob.Retain()
	f.err = nil
	f.size = st.Size
	f.modTime = modTime(&st)
	f.mime = ContentType(f.key, c.cfg.MIMETypes)
	c.loaded++
}

func (c *Cache) open(name string) (*Blob, unix.Stat_t, error) {
	var st unix.Stat_t

	fd, err := unix.Open(name, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, st, &LoadError{Op: "open", Path: name, Err: err}
	}
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, st, &LoadError{Op: "fstat", Path: name, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, st, &LoadError{Op: "open", Path: name, Err: ErrNotRegular}
	}

	if st.Size > c.cfg.MaxMmapSize {
		return &Blob{fd: fd, size: st.Size}, st, nil
	}

	// an empty file cannot be mapped
	var data []byte
	if st.Size > 0 {
		data, err = unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			return nil, st, &LoadError{Op: "mmap", Path: name, Err: err}
		}
	}
	unix.Close(fd)
	return &Blob{data: data, fd: -1, size: st.Size}, st, nil
}

// countLoad records a load and grows capacity by 1/8 once loads in the
// current tick pass half of it.
func (c *Cache) countLoad() {
	c.loads++
	c.stats.Loads++
	if c.loads > c.capacity/2 && c.capacity < c.cfg.MaxCapacity {
		c.capacity = min(c.capacity+max(c.capacity/8, 1), c.cfg.MaxCapacity)
	}
}

func (c *Cache) unload(f *File) {
	if f.blob == nil {
		return
	}
	if f.elem != nil {
		c.free.Remove(f.elem)
		f.elem = nil
	}
	f.blob.Release()
	f.blob = nil
	c.loaded--
	if f.refs == 0 {
		delete(c.files, f.key)
	}
}

// Tick runs the once-per-second maintenance pass. Capacity shrinks by 1/8
// when loads*TargetHitRatio <= requests, then unreferenced files are
// evicted oldest first while more files are loaded than capacity allows.
// It returns the number of evicted files.
func (c *Cache) Tick(now time.Time) int {
	if c.loads*c.cfg.TargetHitRatio <= c.requests && c.capacity > c.cfg.MinCapacity {
		c.capacity = max(c.capacity-max(c.capacity/8, 1), c.cfg.MinCapacity)
	}

	purged := 0
	for c.loaded > c.capacity && purged < c.cfg.MaxPurgePerTick {
		e := c.free.Front()
		if e == nil {
			break
		}
		c.unload(e.Value.(*File))
		purged++
	}
	c.stats.Evictions += uint64(purged)

	c.loads = 0
	c.requests = 0
	return purged
}

// Close unloads every unreferenced file.
func (c *Cache) Close() {
	for e := c.free.Front(); e != nil; e = c.free.Front() {
		c.unload(e.Value.(*File))
	}
}
