// Package routecache memoizes route resolution in a fixed-size
// set-associative table keyed by "host#path".
package routecache

import (
	"errors"
	"fmt"
)

const (
	// Ways is the number of slots per bucket.
	Ways = 4

	// MaxKeyLength is the longest key that can be stored; longer keys are
	// never cached.
	MaxKeyLength = 255

	// DefaultBuckets is the bucket count used by the engine.
	DefaultBuckets = 1024
)

// ErrBuckets is returned for a bucket count that is not a power of two.
var ErrBuckets = errors.New("routecache: bucket count must be a positive power of two")

type slot[V any] struct {
	klen  uint8
	key   [MaxKeyLength]byte
	value V
}

type bucket[V any] struct {
	slots [Ways]slot[V]
	next  uint8
}

// Cache is a set-associative cache with round-robin replacement inside each
// bucket. It is not safe for concurrent use; each worker owns one.
type Cache[V any] struct {
	buckets []bucket[V]
	mask    uint32
	count   int
	onEvict func(V)
}

// New creates a cache with the given number of buckets.
func New[V any](buckets int) (*Cache[V], error) {
	return NewWithEvict[V](buckets, nil)
}

// NewWithEvict creates a cache that hands every overwritten value to
// onEvict, so values owning resources can release them.
func NewWithEvict[V any](buckets int, onEvict func(V)) (*Cache[V], error) {
	if buckets <= 0 || buckets&(buckets-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBuckets, buckets)
	}
	return &Cache[V]{
		buckets: make([]bucket[V], buckets),
		mask:    uint32(buckets - 1),
		onEvict: onEvict,
	}, nil
}

// sdbm hash
func hash(key []byte) uint32 {
	var h uint32
	for _, c := range key {
		h = uint32(c) + (h << 6) + (h << 16) - h
	}
	return h
}

// Find returns the value stored under key.
func (c *Cache[V]) Find(key []byte) (V, bool) {
	var zero V
	if len(key) == 0 || len(key) > MaxKeyLength {
		return zero, false
	}
	b := &c.buckets[hash(key)&c.mask]
	for i := range b.slots {
		s := &b.slots[i]
		if int(s.klen) == len(key) && string(s.key[:s.klen]) == string(key) {
			return s.value, true
		}
	}
	return zero, false
}

// Insert stores v under key, overwriting the bucket's next slot in
// round-robin order. It returns false, storing nothing, when the key is
// empty or longer than MaxKeyLength.
func (c *Cache[V]) Insert(key []byte, v V) bool {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return false
	}
	b := &c.buckets[hash(key)&c.mask]
	s := &b.slots[b.next]
	b.next = (b.next + 1) % Ways

	if s.klen > 0 {
		if c.onEvict != nil {
			c.onEvict(s.value)
		}
	} else {
		c.count++
	}
	s.klen = uint8(len(key))
	copy(s.key[:], key)
	s.value = v
	return true
}

// Len returns the number of occupied slots.
func (c *Cache[V]) Len() int {
	return c.count
}

// Capacity returns the total number of slots.
func (c *Cache[V]) Capacity() int {
	return len(c.buckets) * Ways
}

// Range calls fn for every occupied slot until fn returns false.
func (c *Cache[V]) Range(fn func(key []byte, v V) bool) {
	for i := range c.buckets {
		b := &c.buckets[i]
		for j := range b.slots {
			s := &b.slots[j]
			if s.klen == 0 {
				continue
			}
			if !fn(s.key[:s.klen], s.value) {
				return
			}
		}
	}
}

// Clear empties the cache, passing every stored value to the eviction hook.
func (c *Cache[V]) Clear() {
	var zero V
	for i := range c.buckets {
		b := &c.buckets[i]
		for j := range b.slots {
			s := &b.slots[j]
			if s.klen == 0 {
				continue
			}
			if c.onEvict != nil {
				c.onEvict(s.value)
			}
			s.klen = 0
			s.value = zero
		}
		b.next = 0
	}
	c.count = 0
}
