package optimizer

import (
	"log/slog"
	"time"

	"github.com/deeplooplabs/perfopt/hook"
	"github.com/deeplooplabs/perfopt/memory"
	"github.com/deeplooplabs/perfopt/rules"
)

// Option configures the Optimizer
type Option func(*Optimizer)

// WithRules sets the baseline rule set; critical cleanup restores to it
func WithRules(r rules.Rules) Option {
	return func(o *Optimizer) {
		o.baseline = r
	}
}

// WithCacheSize sets the initial cache capacity. It defaults to the memory
// rule's cache size.
func WithCacheSize(n int) Option {
	return func(o *Optimizer) {
		o.cacheSize = n
	}
}

// WithDefaultTTL sets the TTL used when SetCache is given none
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *Optimizer) {
		o.defaultTTL = ttl
	}
}

// WithClock sets the time source of the cache
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		o.now = now
	}
}

// WithSampler sets the memory pressure source
func WithSampler(s memory.Sampler) Option {
	return func(o *Optimizer) {
		o.sampler = s
	}
}

// WithCollector sets the garbage collection trigger
func WithCollector(c memory.Collector) Option {
	return func(o *Optimizer) {
		o.collector = c
	}
}

// WithThresholds sets the memory escalation thresholds
func WithThresholds(t memory.Thresholds) Option {
	return func(o *Optimizer) {
		o.thresholds = t
	}
}

// WithLimits sets the cache sizes and GC counts of the cleanup tiers
func WithLimits(l memory.Limits) Option {
	return func(o *Optimizer) {
		o.limits = l
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// WithHooks sets the hook registry. Hooks added by an earlier WithHook are
// moved into it; a nil registry is ignored.
func WithHooks(hooks *hook.Registry) Option {
	return func(o *Optimizer) {
		if hooks == nil || hooks == o.hooks {
			return
		}
		if earlier := o.hooks.All(); len(earlier) > 0 {
			hooks.Register(earlier...)
		}
		o.hooks = hooks
	}
}

// WithHook registers a single hook
func WithHook(h hook.Hook) Option {
	return func(o *Optimizer) {
		o.hooks.Register(h)
	}
}

// WithCheckOnRequest controls whether the middleware runs the memory
// guardian on every request. Disable it when Start drives the guardian.
func WithCheckOnRequest(enabled bool) Option {
	return func(o *Optimizer) {
		o.checkOnRequest = enabled
	}
}
