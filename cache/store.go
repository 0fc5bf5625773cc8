package cache

import (
	"sync"
	"time"
)

// Store is a bounded key/value cache with per-entry TTL. When full it evicts
// the entry with the oldest timestamp, and reads refresh that timestamp, so
// the policy behaves like LRU.
type Store struct {
	mu      sync.Mutex
	config  Config
	items   map[string]*Entry
	maxSize int
	hits    uint64
	misses  uint64
}

var _ Cache = (*Store)(nil)

// NewStore creates a new store
func NewStore(config *Config) *Store {
	cfg := DefaultConfig()
	if config != nil {
		if config.MaxSize > 0 {
			cfg.MaxSize = config.MaxSize
		}
		if config.DefaultTTL > 0 {
			cfg.DefaultTTL = config.DefaultTTL
		}
		if config.Now != nil {
			cfg.Now = config.Now
		}
		cfg.OnEvict = config.OnEvict
	}

	return &Store{
		config:  *cfg,
		items:   make(map[string]*Entry, cfg.MaxSize),
		maxSize: cfg.MaxSize,
	}
}

// Get retrieves a value from the cache
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.items[key]
	if !found {
		s.misses++
		return nil, false
	}

	now := s.config.Now()
	if entry.Expired(now) {
		delete(s.items, key)
		s.misses++
		return nil, false
	}

	entry.AccessCount++
	entry.Timestamp = now
	s.hits++
	return entry.Value, true
}

// Peek returns a copy of the entry without touching stats or recency
func (s *Store) Peek(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.items[key]
	if !found {
		return Entry{}, false
	}
	return *entry, true
}

// Set stores a value in the cache. A ttl <= 0 uses the configured default.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.items[key]; !found {
		for len(s.items) >= s.maxSize && len(s.items) > 0 {
			s.evictOldestLocked()
		}
	}

	s.items[key] = &Entry{
		Value:     value,
		Timestamp: s.config.Now(),
		TTL:       ttl,
	}
}

// Delete removes a value from the cache
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// EvictOldest removes the entry with the smallest timestamp and returns its key
func (s *Store) EvictOldest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictOldestLocked()
}

// evictOldestLocked must be called with the lock held
func (s *Store) evictOldestLocked() (string, bool) {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for key, entry := range s.items {
		if !found || entry.Timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.Timestamp
			found = true
		}
	}
	if !found {
		return "", false
	}

	delete(s.items, oldestKey)
	if s.config.OnEvict != nil {
		s.config.OnEvict(oldestKey)
	}
	return oldestKey, true
}

// SweepExpired removes every entry whose TTL has lapsed and returns how many
// were removed
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	removed := 0
	for key, entry := range s.items {
		if entry.Expired(now) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Clear removes all values and zeroes the hit/miss counters. Capacity is unchanged.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Reset clears the cache and sets a new capacity
func (s *Store) Reset(maxSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	if maxSize > 0 {
		s.maxSize = maxSize
	}
}

func (s *Store) clearLocked() {
	s.items = make(map[string]*Entry, s.maxSize)
	s.hits = 0
	s.misses = 0
}

// Len returns the number of stored entries, expired ones included
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// MaxSize returns the current capacity
func (s *Store) MaxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSize
}

// Stats returns cache statistics
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Hits:    s.hits,
		Misses:  s.misses,
		Size:    len(s.items),
		MaxSize: s.maxSize,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats
}
