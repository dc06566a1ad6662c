package routecache

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewRejectsBadBucketCount(t *testing.T) {
	for _, n := range []int{0, -4, 3, 1000} {
		if _, err := New[int](n); !errors.Is(err, ErrBuckets) {
			t.Errorf("New(%d): expected ErrBuckets, got %v", n, err)
		}
	}
	if _, err := New[int](1); err != nil {
		t.Errorf("New(1) failed: %v", err)
	}
}

func TestInsertFind(t *testing.T) {
	c, err := New[string](DefaultBuckets)
	if err != nil {
		t.Fatal(err)
	}

	keys := []string{"example.com#/", "example.com#/a", "other#/a", "#/"}
	for _, k := range keys {
		if !c.Insert([]byte(k), "v:"+k) {
			t.Fatalf("Insert(%q) refused", k)
		}
	}
	for _, k := range keys {
		v, ok := c.Find([]byte(k))
		if !ok || v != "v:"+k {
			t.Errorf("Find(%q) = %q, %v", k, v, ok)
		}
	}
	if _, ok := c.Find([]byte("example.com#/b")); ok {
		t.Error("Find returned a value for a missing key")
	}
	if c.Len() != len(keys) {
		t.Errorf("Expected Len %d, got %d", len(keys), c.Len())
	}
}

func TestKeyLengthLimit(t *testing.T) {
	c, _ := New[int](16)

	if c.Insert(nil, 1) {
		t.Error("empty key must not be cached")
	}

	long := []byte(strings.Repeat("k", MaxKeyLength+1))
	if c.Insert(long, 1) {
		t.Error("over-long key must not be cached")
	}
	if _, ok := c.Find(long); ok {
		t.Error("over-long key found")
	}

	full := []byte(strings.Repeat("k", MaxKeyLength))
	if !c.Insert(full, 7) {
		t.Fatal("key of MaxKeyLength refused")
	}
	if v, ok := c.Find(full); !ok || v != 7 {
		t.Errorf("Find(full) = %d, %v", v, ok)
	}
}

func TestBucketBound(t *testing.T) {
	// a single bucket makes every key collide
	var evicted []int
	c, err := NewWithEvict[int](1, func(v int) { evicted = append(evicted, v) })
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < Ways+1; i++ {
		c.Insert([]byte(fmt.Sprintf("host#/%d", i)), i)
	}

	if _, ok := c.Find([]byte("host#/0")); ok {
		t.Error("first-written key should have been overwritten")
	}
	for i := 1; i <= Ways; i++ {
		if v, ok := c.Find([]byte(fmt.Sprintf("host#/%d", i))); !ok || v != i {
			t.Errorf("key %d: got %d, %v", i, v, ok)
		}
	}
	if len(evicted) != 1 || evicted[0] != 0 {
		t.Errorf("Expected eviction of [0], got %v", evicted)
	}
	if c.Len() != Ways {
		t.Errorf("Expected Len %d, got %d", Ways, c.Len())
	}
}

func TestRangeAndClear(t *testing.T) {
	var evicted int
	c, _ := NewWithEvict[int](8, func(int) { evicted++ })
	for i := 0; i < 10; i++ {
		c.Insert([]byte(fmt.Sprintf("h#/%d", i)), i)
	}

	seen := 0
	c.Range(func(key []byte, v int) bool {
		if string(key) != fmt.Sprintf("h#/%d", v) {
			t.Errorf("key %q stored with value %d", key, v)
		}
		seen++
		return true
	})
	if seen != c.Len() {
		t.Errorf("Range visited %d slots, Len is %d", seen, c.Len())
	}

	n := c.Len()
	evicted = 0
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", c.Len())
	}
	if evicted != n {
		t.Errorf("Expected %d evictions on Clear, got %d", n, evicted)
	}
}

func BenchmarkFind(b *testing.B) {
	c, _ := New[int](DefaultBuckets)
	key := []byte("localhost:8080#/api/v1/users")
	c.Insert(key, 1)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.Find(key); !ok {
			b.Fatal("miss")
		}
	}
}
