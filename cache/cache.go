package cache

import (
	"time"
)

// Cache is the interface the memory guardian and the optimizer use to
// drive the store
type Cache interface {
	// Get retrieves a value from the cache
	Get(key string) (any, bool)

	// Set stores a value in the cache with a TTL
	Set(key string, value any, ttl time.Duration)

	// Clear removes all values and resets statistics
	Clear()

	// Reset clears the cache and changes its capacity
	Reset(maxSize int)

	// Stats returns cache statistics
	Stats() Stats
}

// Stats represents cache statistics
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	HitRate float64 `json:"hitRate"`
}

// Entry is a single cached value
type Entry struct {
	Value any
	// Timestamp is the last write or successful read
	Timestamp time.Time
	// TTL is fixed at insert time and not refreshed by reads
	TTL         time.Duration
	AccessCount uint64
}

// Expired reports whether the entry has outlived its TTL at now
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Config holds cache configuration
type Config struct {
	// MaxSize is the maximum number of entries (default: 1000)
	MaxSize int

	// DefaultTTL is the TTL used when Set is called without one (default: 5 minutes)
	DefaultTTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnEvict is called with the key of every capacity eviction
	OnEvict func(key string)
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSize:    1000,
		DefaultTTL: 5 * time.Minute,
		Now:        time.Now,
	}
}
