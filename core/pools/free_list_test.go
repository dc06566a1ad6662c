package pools

import (
	"runtime"
	"runtime/debug"
	"testing"
)

type item struct {
	id    int
	dirty bool
}

func (i *item) Reset() { i.dirty = false }

func TestFreeList_Reuse(t *testing.T) {
	next := 0
	fl := NewFreeList(func() *item {
		next++
		return &item{id: next}
	})

	a := fl.Get()
	b := fl.Get()
	if a == b {
		t.Fatal("Get returned the same object twice")
	}

	a.dirty = true
	fl.Put(a)
	if a.dirty {
		t.Error("Put did not reset the object")
	}

	c := fl.Get()
	if c != a {
		t.Errorf("Expected recycled object %d, got %d", a.id, c.id)
	}

	stats := fl.Stats()
	if stats.Gets != 3 || stats.News != 2 || stats.Puts != 1 || stats.Idle != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if fl.InUse() != 2 {
		t.Errorf("Expected 2 in use, got %d", fl.InUse())
	}
}

func TestFreeList_LIFO(t *testing.T) {
	fl := NewFreeList[item](nil)
	x, y := fl.Get(), fl.Get()
	fl.Put(x)
	fl.Put(y)

	if fl.Get() != y || fl.Get() != x {
		t.Error("Expected last-in first-out reuse")
	}
}

func TestFreeList_PutNil(t *testing.T) {
	fl := NewFreeList[item](nil)
	fl.Put(nil)
	if fl.Stats().Puts != 0 || fl.Stats().Idle != 0 {
		t.Error("nil must not be pooled")
	}
}

func TestApplyGCConfig(t *testing.T) {
	orig := debug.SetGCPercent(100)
	defer debug.SetGCPercent(orig)

	prev := ApplyGCConfig(GCConfig{Percent: 250})
	if prev != 100 {
		t.Errorf("Expected previous percent 100, got %d", prev)
	}
	if got := debug.SetGCPercent(100); got != 250 {
		t.Errorf("Expected percent 250, got %d", got)
	}

	if prev := ApplyGCConfig(GCConfig{}); prev != 100 {
		t.Errorf("zero config must keep the current percent, got %d", prev)
	}
}

func TestReadRuntimeStats(t *testing.T) {
	runtime.GC()
	s := ReadRuntimeStats()
	if s.NumGC == 0 {
		t.Error("Expected at least one collection")
	}
	if s.Goroutines < 1 || s.HeapAlloc == 0 || s.Sys < s.HeapAlloc {
		t.Errorf("Implausible stats: %+v", s)
	}
}

func BenchmarkFreeList(b *testing.B) {
	fl := NewFreeList[item](nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		fl.Put(fl.Get())
	}
}
