// Package rules holds the static optimization rule bundles consulted by the
// query/response transforms and the memory guardian.
package rules

import (
	"sync"
	"time"
)

// Domain names a rule bundle
type Domain string

const (
	DomainDatabase Domain = "database"
	DomainMemory   Domain = "memory"
	DomainResponse Domain = "response"
)

// Database rules shape outbound queries
type Database struct {
	EnableProjection  bool          `yaml:"enable_projection"`
	EnableAggregation bool          `yaml:"enable_aggregation"`
	MaxQueryTime      time.Duration `yaml:"max_query_time"`
	MaxResultSize     int           `yaml:"max_result_size"`
}

// Memory rules bound memory use
type Memory struct {
	// MaxHeapUsage is a fraction of the heap, e.g. 0.8
	MaxHeapUsage float64 `yaml:"max_heap_usage"`
	GCThreshold  float64 `yaml:"gc_threshold"`
	CacheMaxSize int     `yaml:"cache_max_size"`
}

// Response rules shape outbound payloads
type Response struct {
	// MaxResponseSize is in bytes of serialized JSON
	MaxResponseSize   int  `yaml:"max_response_size"`
	DefaultPageSize   int  `yaml:"default_page_size"`
	MaxPageSize       int  `yaml:"max_page_size"`
	EnableCompression bool `yaml:"enable_compression"`
	EnablePagination  bool `yaml:"enable_pagination"`
}

// Rules is the full rule set
type Rules struct {
	Database Database `yaml:"database"`
	Memory   Memory   `yaml:"memory"`
	Response Response `yaml:"response"`
}

// Defaults returns the built-in rule set
func Defaults() Rules {
	return Rules{
		Database: Database{
			EnableProjection:  true,
			EnableAggregation: true,
			MaxQueryTime:      5 * time.Second,
			MaxResultSize:     1000,
		},
		Memory: Memory{
			MaxHeapUsage: 0.8,
			GCThreshold:  0.7,
			CacheMaxSize: 1000,
		},
		Response: Response{
			MaxResponseSize:   1024 * 1024,
			DefaultPageSize:   20,
			MaxPageSize:       100,
			EnableCompression: true,
			EnablePagination:  true,
		},
	}
}

// Set is the live rule set. It starts from a baseline and is only changed by
// memory cleanup.
type Set struct {
	mu        sync.RWMutex
	baseline  Rules
	current   Rules
	discarded bool
}

// NewSet creates a rule set from a baseline
func NewSet(baseline Rules) *Set {
	return &Set{
		baseline: baseline,
		current:  baseline,
	}
}

// Snapshot returns a copy of the current rules. While discarded it returns
// the zero value, which disables every optional transform.
func (s *Set) Snapshot() Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.discarded {
		return Rules{}
	}
	return s.current
}

// Lookup returns the rules of one domain as a key/value map
func (s *Set) Lookup(domain Domain) (map[string]any, bool) {
	r := s.Snapshot()

	switch domain {
	case DomainDatabase:
		return map[string]any{
			"enableProjection":  r.Database.EnableProjection,
			"enableAggregation": r.Database.EnableAggregation,
			"maxQueryTime":      r.Database.MaxQueryTime.Milliseconds(),
			"maxResultSize":     r.Database.MaxResultSize,
		}, true
	case DomainMemory:
		return map[string]any{
			"maxHeapUsage": r.Memory.MaxHeapUsage,
			"gcThreshold":  r.Memory.GCThreshold,
			"cacheMaxSize": r.Memory.CacheMaxSize,
		}, true
	case DomainResponse:
		return map[string]any{
			"maxResponseSize":   r.Response.MaxResponseSize,
			"defaultPageSize":   r.Response.DefaultPageSize,
			"maxPageSize":       r.Response.MaxPageSize,
			"enableCompression": r.Response.EnableCompression,
			"enablePagination":  r.Response.EnablePagination,
		}, true
	default:
		return nil, false
	}
}

// Discard drops every rule until Restore is called
func (s *Set) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
}

// Restore rebuilds the rule set from its baseline
func (s *Set) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.baseline
	s.discarded = false
}

// Shrink lowers the cache and page size limits. Values are never raised,
// and the default page size is kept within the new maximum.
func (s *Set) Shrink(cacheMaxSize, maxPageSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cacheMaxSize > 0 && cacheMaxSize < s.current.Memory.CacheMaxSize {
		s.current.Memory.CacheMaxSize = cacheMaxSize
	}
	if maxPageSize > 0 && maxPageSize < s.current.Response.MaxPageSize {
		s.current.Response.MaxPageSize = maxPageSize
	}
	if s.current.Response.DefaultPageSize > s.current.Response.MaxPageSize {
		s.current.Response.DefaultPageSize = s.current.Response.MaxPageSize
	}
}
