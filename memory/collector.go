package memory

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
)

// Collector triggers one garbage collection cycle
type Collector interface {
	Collect()
}

// CollectorFunc adapts a function to Collector
type CollectorFunc func()

// Collect implements Collector
func (f CollectorFunc) Collect() {
	f()
}

// RuntimeCollector runs the Go garbage collector
type RuntimeCollector struct {
	// ReturnToOS also releases freed memory back to the OS
	ReturnToOS bool
}

// Collect implements Collector
func (c RuntimeCollector) Collect() {
	if c.ReturnToOS {
		// FreeOSMemory forces a GC itself
		debug.FreeOSMemory()
		return
	}
	runtime.GC()
}

// CountingCollector counts collections and runs nothing
type CountingCollector struct {
	n atomic.Int64
}

// Collect implements Collector
func (c *CountingCollector) Collect() {
	c.n.Add(1)
}

// Count returns the number of collections requested so far
func (c *CountingCollector) Count() int {
	return int(c.n.Load())
}
