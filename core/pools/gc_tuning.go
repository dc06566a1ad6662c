package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig tunes the collector for a process whose request path barely
// allocates.
type GCConfig struct {
	// Percent is the GOGC target; 0 keeps the current value, negative
	// disables collection.
	Percent int

	// MemoryLimit is the soft limit in bytes; 0 leaves it unset.
	MemoryLimit int64
}

// ApplyGCConfig applies cfg and returns the GOGC value in effect before.
func ApplyGCConfig(cfg GCConfig) int {
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	if cfg.Percent != 0 {
		return debug.SetGCPercent(cfg.Percent)
	}
	prev := debug.SetGCPercent(-1)
	debug.SetGCPercent(prev)
	return prev
}

// RuntimeStats is a point-in-time view of the collector and heap.
type RuntimeStats struct {
	NumGC      uint32
	PauseTotal time.Duration
	LastPause  time.Duration
	HeapAlloc  uint64
	Sys        uint64
	Goroutines int
}

// ReadRuntimeStats stops the world briefly; call it from diagnostics only.
func ReadRuntimeStats() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := RuntimeStats{
		NumGC:      ms.NumGC,
		PauseTotal: time.Duration(ms.PauseTotalNs),
		HeapAlloc:  ms.HeapAlloc,
		Sys:        ms.Sys,
		Goroutines: runtime.NumGoroutine(),
	}
	if ms.NumGC > 0 {
		s.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	}
	return s
}
