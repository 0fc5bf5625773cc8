package optimizer

import (
	"github.com/deeplooplabs/perfopt/cache"
)

// Priority of a recommendation
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Recommendation is a tuning hint derived from cache and memory state
type Recommendation struct {
	Type     string   `json:"type"`
	Priority Priority `json:"priority"`
	Message  string   `json:"message"`
	Action   string   `json:"action"`
}

// StatsReport is the cache statistics view exposed to hosts
type StatsReport struct {
	Hits            uint64           `json:"hits"`
	Misses          uint64           `json:"misses"`
	Size            int              `json:"size"`
	MaxSize         int              `json:"maxSize"`
	HitRate         float64          `json:"hitRate"`
	Recommendations []Recommendation `json:"recommendations"`
}

const (
	lowHitRate      = 0.7
	nearlyFullRatio = 0.9
)

// CacheStats returns cache statistics with recommendations
func (o *Optimizer) CacheStats() StatsReport {
	stats := o.cache.Stats()
	return StatsReport{
		Hits:            stats.Hits,
		Misses:          stats.Misses,
		Size:            stats.Size,
		MaxSize:         stats.MaxSize,
		HitRate:         stats.HitRate,
		Recommendations: o.recommend(stats),
	}
}

// Recommendations derives tuning hints from the current cache statistics and
// the last memory reading
func (o *Optimizer) Recommendations() []Recommendation {
	return o.recommend(o.cache.Stats())
}

func (o *Optimizer) recommend(stats cache.Stats) []Recommendation {
	recs := make([]Recommendation, 0, 3)

	snap, _ := o.guardian.Last()
	maxHeap := o.rules.Snapshot().Memory.MaxHeapUsage
	if maxHeap <= 0 {
		maxHeap = 0.8
	}
	if snap.HeapRatio() > maxHeap {
		recs = append(recs, Recommendation{
			Type:     "memory",
			Priority: PriorityHigh,
			Message:  "High memory usage detected",
			Action:   "Consider increasing the memory limit or reducing cached data",
		})
	}

	// a cold cache has no meaningful hit rate
	if stats.Hits+stats.Misses > 0 && stats.HitRate < lowHitRate {
		recs = append(recs, Recommendation{
			Type:     "cache",
			Priority: PriorityMedium,
			Message:  "Low cache hit rate",
			Action:   "Review cache keys and TTLs for frequently accessed data",
		})
	}

	if stats.MaxSize > 0 && float64(stats.Size) > float64(stats.MaxSize)*nearlyFullRatio {
		recs = append(recs, Recommendation{
			Type:     "cache",
			Priority: PriorityMedium,
			Message:  "Cache is nearly full",
			Action:   "Consider increasing the cache size or shortening TTLs",
		})
	}

	return recs
}
