// Package memory watches process memory pressure and escalates through
// cleanup tiers that shed cache and rule state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deeplooplabs/perfopt"
	"github.com/deeplooplabs/perfopt/hook"
)

// State is the pressure level of one check
type State int

const (
	Healthy State = iota
	// HeapPressure means the heap looks saturated while process memory is calm
	HeapPressure
	Elevated
	Reclaim
	Emergency
	Critical
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case HeapPressure:
		return "heap_pressure"
	case Elevated:
		return "elevated"
	case Reclaim:
		return "reclaim"
	case Emergency:
		return "emergency"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds are percentages; a tier fires when the signal is strictly above it
type Thresholds struct {
	Elevated  float64 `yaml:"elevated"`
	Reclaim   float64 `yaml:"reclaim"`
	Emergency float64 `yaml:"emergency"`
	Critical  float64 `yaml:"critical"`
	Heap      float64 `yaml:"heap"`
}

// DefaultThresholds returns the standard escalation points
func DefaultThresholds() Thresholds {
	return Thresholds{
		Elevated:  80,
		Reclaim:   85,
		Emergency: 90,
		Critical:  95,
		Heap:      90,
	}
}

// Classify maps the two signals to a state. Process memory dominates; heap
// pressure is only reported while process memory is below Elevated.
func Classify(renderPercent, heapPercent float64, t Thresholds) State {
	switch {
	case renderPercent > t.Critical:
		return Critical
	case renderPercent > t.Emergency:
		return Emergency
	case renderPercent > t.Reclaim:
		return Reclaim
	case renderPercent > t.Elevated:
		return Elevated
	case heapPercent > t.Heap:
		return HeapPressure
	default:
		return Healthy
	}
}

// Limits are the sizes and GC counts applied by the destructive tiers
type Limits struct {
	EmergencyCacheSize int `yaml:"emergency_cache_size"`
	CriticalCacheSize  int `yaml:"critical_cache_size"`
	CriticalPageSize   int `yaml:"critical_page_size"`
	EmergencyGCRuns    int `yaml:"emergency_gc_runs"`
	CriticalGCRuns     int `yaml:"critical_gc_runs"`
}

// DefaultLimits returns the standard cleanup limits
func DefaultLimits() Limits {
	return Limits{
		EmergencyCacheSize: 500,
		CriticalCacheSize:  100,
		CriticalPageSize:   50,
		EmergencyGCRuns:    3,
		CriticalGCRuns:     5,
	}
}

// Actions are the state mutations the cleanup tiers perform
type Actions interface {
	// ClearCache empties the cache and zeroes its stats
	ClearCache()
	// ResetCache empties the cache, zeroes its stats and sets its capacity
	ResetCache(maxSize int)
	// DiscardRules drops the rule set
	DiscardRules()
	// RestoreRules rebuilds the rule set from its defaults
	RestoreRules()
	// ShrinkRules lowers rule limits
	ShrinkRules(cacheMaxSize, maxPageSize int)
}

// Config configures a Guardian
type Config struct {
	Thresholds Thresholds
	Limits     Limits
	Sampler    Sampler
	Collector  Collector
	Hooks      *hook.Registry
	Logger     *slog.Logger
}

// tier is one escalation step. Tiers run in ascending threshold order and
// every tier below the current reading runs.
type tier struct {
	name      string
	threshold float64
	run       func(ctx context.Context) error
}

// Guardian checks memory pressure and runs cleanup tiers
type Guardian struct {
	config  Config
	actions Actions
	logger  *slog.Logger
	tiers   []tier

	mu        sync.Mutex
	stateMu   sync.RWMutex
	last      Snapshot
	lastState State
}

// NewGuardian creates a guardian acting on actions
func NewGuardian(actions Actions, config Config) *Guardian {
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = DefaultThresholds()
	}
	if config.Limits == (Limits{}) {
		config.Limits = DefaultLimits()
	}
	if config.Sampler == nil {
		config.Sampler = NewRuntimeSampler(0)
	}
	if config.Collector == nil {
		config.Collector = RuntimeCollector{}
	}
	if config.Hooks == nil {
		config.Hooks = hook.NewRegistry()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	g := &Guardian{
		config:  config,
		actions: actions,
		logger:  config.Logger,
	}

	t := config.Thresholds
	g.tiers = []tier{
		{name: "cache", threshold: t.Elevated, run: g.clearCache},
		{name: "gc", threshold: t.Reclaim, run: g.collectOnce},
		{name: "emergency", threshold: t.Emergency, run: g.emergencyCleanup},
		{name: "critical", threshold: t.Critical, run: g.criticalCleanup},
	}
	return g
}

// Check samples memory once and runs whatever cleanup the reading calls for.
// Cleanup failures are logged and reported to error hooks; the only error
// returned is a failure to sample. Concurrent callers do not queue: while a
// check is running others return the last state.
func (g *Guardian) Check(ctx context.Context) (State, error) {
	if !g.mu.TryLock() {
		_, state := g.Last()
		return state, nil
	}
	defer g.mu.Unlock()

	snap, err := g.config.Sampler.Sample()
	if err != nil {
		g.logger.WarnContext(ctx, "Memory sample failed", "error", err)
		return Healthy, fmt.Errorf("failed to sample memory: %w", err)
	}

	state := Classify(snap.RenderPercent, snap.HeapPercent, g.config.Thresholds)

	g.stateMu.Lock()
	g.last = snap
	g.lastState = state
	g.stateMu.Unlock()

	switch state {
	case Healthy:
		g.logger.DebugContext(ctx, "Memory usage healthy",
			"render_percent", snap.RenderPercent,
			"heap_percent", snap.HeapPercent,
		)
	case HeapPressure:
		g.logger.InfoContext(ctx, "Heap pressure, running garbage collection",
			"heap_percent", snap.HeapPercent,
		)
		g.runTier(ctx, tier{name: "heap", run: func(ctx context.Context) error {
			return g.collect("heap", 1)
		}})
	default:
		g.logger.WarnContext(ctx, "High memory usage detected",
			"state", state.String(),
			"render_percent", snap.RenderPercent,
			"heap_percent", snap.HeapPercent,
			"rss", snap.RSS,
			"limit", snap.Limit,
		)
		for _, t := range g.tiers {
			if snap.RenderPercent > t.threshold {
				g.runTier(ctx, t)
			}
		}
	}

	return state, nil
}

// Last returns the most recent snapshot and state
func (g *Guardian) Last() (Snapshot, State) {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.last, g.lastState
}

// Thresholds returns the configured thresholds
func (g *Guardian) Thresholds() Thresholds {
	return g.config.Thresholds
}

// runTier runs one tier and contains any failure, including panics raised
// by the hooks it notifies
func (g *Guardian) runTier(ctx context.Context, t tier) {
	if err := g.runContained(ctx, t); err != nil {
		g.reportError(ctx, err)
	}

	for _, h := range g.config.Hooks.TierHooks() {
		g.notify(ctx, h.Name(), func() { h.OnTier(ctx, t.name) })
	}
}

func (g *Guardian) runContained(ctx context.Context, t tier) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perfopt.NewCleanupError(t.name, "", perfopt.RecoveredError(r))
		}
	}()
	return t.run(ctx)
}

func (g *Guardian) reportError(ctx context.Context, err error) {
	g.logger.ErrorContext(ctx, "Memory cleanup failed", "error", err)
	for _, h := range g.config.Hooks.ErrorHooks() {
		g.notify(ctx, h.Name(), func() { h.OnError(ctx, err) })
	}
}

// notify calls a hook and logs instead of propagating its panic
func (g *Guardian) notify(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "Memory hook panicked", "hook", name, "panic", r)
		}
	}()
	fn()
}

func (g *Guardian) clearCache(ctx context.Context) error {
	g.actions.ClearCache()
	g.logger.InfoContext(ctx, "Cache cleared due to memory pressure")
	return nil
}

func (g *Guardian) collectOnce(ctx context.Context) error {
	return g.collect("gc", 1)
}

// collect runs n collections. A panicking collector stops the loop and is
// returned as an error.
func (g *Guardian) collect(tierName string, n int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perfopt.NewCleanupError(tierName, "gc", perfopt.RecoveredError(r))
		}
	}()
	for i := 0; i < n; i++ {
		g.config.Collector.Collect()
	}
	return nil
}

// emergencyCleanup clears every cache it can reach, collects repeatedly and
// shrinks the cache. Host cache hooks that fail do not stop the others.
func (g *Guardian) emergencyCleanup(ctx context.Context) error {
	g.logger.WarnContext(ctx, "Running emergency memory cleanup")

	g.actions.ClearCache()

	var errs []error
	for _, h := range g.config.Hooks.CleanupHooks() {
		if err := g.clearHostCache(ctx, h); err != nil {
			errs = append(errs, perfopt.NewCleanupError("emergency", "clear "+h.Name(), err))
		}
	}

	if err := g.collect("emergency", g.config.Limits.EmergencyGCRuns); err != nil {
		errs = append(errs, err)
	}
	g.actions.ResetCache(g.config.Limits.EmergencyCacheSize)

	return errors.Join(errs...)
}

func (g *Guardian) clearHostCache(ctx context.Context, h hook.CleanupHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perfopt.RecoveredError(r)
		}
	}()
	return h.ClearCache(ctx)
}

// criticalCleanup repeats the emergency tier, then rebuilds the rule set and
// leaves the cache at its smallest size
func (g *Guardian) criticalCleanup(ctx context.Context) error {
	g.logger.ErrorContext(ctx, "Running critical memory cleanup")

	emergencyErr := g.emergencyCleanup(ctx)

	g.actions.DiscardRules()
	gcErr := g.collect("critical", g.config.Limits.CriticalGCRuns)
	g.actions.RestoreRules()

	g.actions.ResetCache(g.config.Limits.CriticalCacheSize)
	g.actions.ShrinkRules(g.config.Limits.CriticalCacheSize, g.config.Limits.CriticalPageSize)

	return errors.Join(emergencyErr, gcErr)
}
