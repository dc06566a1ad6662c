package pools

// Resetter is implemented by pooled objects that clear themselves on Put.
type Resetter interface {
	Reset()
}

// FreeListStats holds free list counters.
type FreeListStats struct {
	Gets uint64
	News uint64
	Puts uint64
	Idle int
}

// FreeList recycles objects of one type. Unlike sync.Pool it never drops
// idle objects and is owned by a single goroutine, so it takes no locks.
type FreeList[T any] struct {
	New func() *T

	free []*T
	gets uint64
	news uint64
	puts uint64
}

// NewFreeList creates a free list that allocates through newFunc.
func NewFreeList[T any](newFunc func() *T) *FreeList[T] {
	return &FreeList[T]{New: newFunc}
}

// Get pops an idle object, or allocates one when none is idle.
func (fl *FreeList[T]) Get() *T {
	fl.gets++
	if n := len(fl.free); n > 0 {
		obj := fl.free[n-1]
		fl.free[n-1] = nil
		fl.free = fl.free[:n-1]
		return obj
	}
	fl.news++
	if fl.New == nil {
		return new(T)
	}
	return fl.New()
}

// Put resets obj if it is a Resetter and makes it available to Get.
func (fl *FreeList[T]) Put(obj *T) {
	if obj == nil {
		return
	}
	if r, ok := any(obj).(Resetter); ok {
		r.Reset()
	}
	fl.puts++
	fl.free = append(fl.free, obj)
}

// Stats returns free list statistics
func (fl *FreeList[T]) Stats() FreeListStats {
	return FreeListStats{
		Gets: fl.gets,
		News: fl.news,
		Puts: fl.puts,
		Idle: len(fl.free),
	}
}

// InUse returns the number of objects handed out and not yet returned.
func (fl *FreeList[T]) InUse() int {
	return int(fl.gets - fl.puts)
}
