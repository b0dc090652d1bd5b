// Package memstat samples Go heap usage.
package memstat

import (
	"math"
	"runtime"
	"runtime/debug"
)

// Sample is one heap reading. Percent is heap in use relative to the soft
// memory limit when one is set (GOMEMLIMIT), otherwise relative to the heap
// obtained from the OS.
type Sample struct {
	HeapAlloc  uint64  `json:"heap_alloc_bytes"`
	HeapSys    uint64  `json:"heap_sys_bytes"`
	Sys        uint64  `json:"sys_bytes"`
	Limit      uint64  `json:"limit_bytes,omitempty"`
	NumGC      uint32  `json:"num_gc"`
	Goroutines int     `json:"goroutines"`
	Percent    float64 `json:"percent"`
}

// Reader returns a sample. Tests substitute fixed readings.
type Reader func() Sample

// Read samples the runtime.
func Read() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Sample{
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}

	// A negative input only reads the current limit.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		s.Limit = uint64(limit)
		s.Percent = percent(ms.HeapAlloc, s.Limit)
		return s
	}
	s.Percent = percent(ms.HeapAlloc, ms.HeapSys)
	return s
}

// Release runs a collection and returns freed memory to the OS.
func Release() {
	runtime.GC()
	debug.FreeOSMemory()
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
