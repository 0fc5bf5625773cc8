// Package optimizer is the in-process performance layer: a bounded TTL
// cache, query and response transforms driven by a rule set, and a memory
// guardian that sheds state under pressure. Build one Optimizer per process
// and hand it to the handlers that need it.
package optimizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deeplooplabs/perfopt/cache"
	"github.com/deeplooplabs/perfopt/hook"
	"github.com/deeplooplabs/perfopt/memory"
	"github.com/deeplooplabs/perfopt/rules"
	"github.com/deeplooplabs/perfopt/transform"
)

// Optimizer owns the cache, the rule set and the memory guardian
type Optimizer struct {
	cache    *cache.Store
	rules    *rules.Set
	guardian *memory.Guardian
	hooks    *hook.Registry
	metrics  *Metrics
	logger   *slog.Logger

	checkOnRequest bool

	// construction-time settings consumed by New
	baseline   rules.Rules
	cacheSize  int
	defaultTTL time.Duration
	now        func() time.Time
	sampler    memory.Sampler
	collector  memory.Collector
	thresholds memory.Thresholds
	limits     memory.Limits

	loopMu sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an optimizer with default options
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		baseline:       rules.Defaults(),
		hooks:          hook.NewRegistry(),
		logger:         slog.Default(),
		now:            time.Now,
		checkOnRequest: true,
	}

	for _, opt := range opts {
		opt(o)
	}

	cacheSize := o.cacheSize
	if cacheSize <= 0 {
		cacheSize = o.baseline.Memory.CacheMaxSize
	}
	o.rules = rules.NewSet(o.baseline)
	o.cache = cache.NewStore(&cache.Config{
		MaxSize:    cacheSize,
		DefaultTTL: o.defaultTTL,
		Now:        o.now,
		OnEvict:    o.recordEviction,
	})

	if o.metrics != nil {
		o.hooks.Register(&metricsHook{metrics: o.metrics})
	}

	o.guardian = memory.NewGuardian(stateActions{o}, memory.Config{
		Thresholds: o.thresholds,
		Limits:     o.limits,
		Sampler:    o.sampler,
		Collector:  o.collector,
		Hooks:      o.hooks,
		Logger:     o.logger,
	})

	return o
}

// SetCache stores value under key. A ttl <= 0 uses the default of five minutes.
func (o *Optimizer) SetCache(key string, value any, ttl time.Duration) {
	o.cache.Set(key, value, ttl)
	o.metrics.observeCacheSize(o.cache.Len())
}

// GetCache returns the cached value for key
func (o *Optimizer) GetCache(key string) (any, bool) {
	value, ok := o.cache.Get(key)
	o.metrics.observeLookup(ok)
	return value, ok
}

// DeleteCache removes key from the cache
func (o *Optimizer) DeleteCache(key string) {
	o.cache.Delete(key)
	o.metrics.observeCacheSize(o.cache.Len())
}

// ClearCache empties the cache and resets its statistics
func (o *Optimizer) ClearCache() {
	o.cache.Clear()
	o.metrics.observeCacheSize(0)
}

// OptimizeQuery applies projection, default limit and index-aware sort
func (o *Optimizer) OptimizeQuery(q transform.Query, opts transform.QueryOptions) (transform.Query, transform.QueryOptions) {
	return transform.OptimizeQuery(q, opts, o.rules.Snapshot())
}

// OptimizeResponse compresses, paginates and redacts data as the rules and
// options call for
func (o *Optimizer) OptimizeResponse(data any, opts transform.ResponseOptions) (any, error) {
	out, err := transform.OptimizeResponse(data, opts, o.rules.Snapshot())
	if err != nil {
		o.logger.Error("Response optimization failed", "error", err)
		return nil, err
	}
	if page, ok := out.(transform.Page); ok {
		o.metrics.observeTransform("paginate")
		o.logger.Debug("Response paginated",
			"page", page.Pagination.Page,
			"total", page.Pagination.Total,
		)
	}
	if opts.Redact {
		o.metrics.observeTransform("redact")
	}
	return out, nil
}

// OptimizeMemory runs the memory guardian once
func (o *Optimizer) OptimizeMemory(ctx context.Context) memory.State {
	state, err := o.guardian.Check(ctx)
	if err != nil {
		return state
	}
	snap, _ := o.guardian.Last()
	o.metrics.observeMemory(snap, state)
	o.metrics.observeCacheSize(o.cache.Len())
	return state
}

// Rules returns the rules of one domain
func (o *Optimizer) Rules(domain rules.Domain) (map[string]any, bool) {
	return o.rules.Lookup(domain)
}

// RuleSnapshot returns a typed copy of the current rules
func (o *Optimizer) RuleSnapshot() rules.Rules {
	return o.rules.Snapshot()
}

// Hooks returns the hook registry
func (o *Optimizer) Hooks() *hook.Registry {
	return o.hooks
}

// Cache returns the underlying store
func (o *Optimizer) Cache() *cache.Store {
	return o.cache
}

func (o *Optimizer) recordEviction(key string) {
	o.metrics.observeEviction()
}

// stateActions lets the guardian mutate the optimizer's cache and rules
type stateActions struct {
	o *Optimizer
}

func (a stateActions) ClearCache() {
	a.o.cache.Clear()
}

func (a stateActions) ResetCache(maxSize int) {
	a.o.cache.Reset(maxSize)
}

func (a stateActions) DiscardRules() {
	a.o.rules.Discard()
}

func (a stateActions) RestoreRules() {
	a.o.rules.Restore()
}

func (a stateActions) ShrinkRules(cacheMaxSize, maxPageSize int) {
	a.o.rules.Shrink(cacheMaxSize, maxPageSize)
}

// LastMemory returns the last memory reading of the guardian
func (o *Optimizer) LastMemory() (memory.Snapshot, memory.State) {
	return o.guardian.Last()
}
