package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hook is the base interface for all hooks
type Hook interface {
	// Name returns the unique name of this hook
	Name() string
}

// CleanupHook releases a cache the host owns outside the optimizer, such as a
// package-level memo or a template cache. It runs during emergency cleanup.
type CleanupHook interface {
	Hook
	// ClearCache drops everything the hook's cache holds
	ClearCache(ctx context.Context) error
}

// TierHook observes memory cleanup tiers as they run
type TierHook interface {
	Hook
	// OnTier is called after a cleanup tier has run
	OnTier(ctx context.Context, tier string)
}

// ErrorHook is called when a cleanup step fails
type ErrorHook interface {
	Hook
	// OnError is called with the failure; it must not panic
	OnError(ctx context.Context, err error)
}

// Registry manages registered hooks
type Registry struct {
	mu           sync.RWMutex
	hooks        []Hook
	cleanupHooks []CleanupHook
	tierHooks    []TierHook
	errorHooks   []ErrorHook
}

// NewRegistry creates a new hook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks:        make([]Hook, 0),
		cleanupHooks: make([]CleanupHook, 0),
		tierHooks:    make([]TierHook, 0),
		errorHooks:   make([]ErrorHook, 0),
	}
}

// Register registers a hook under every hook interface it implements
func (r *Registry) Register(hooks ...Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, hook := range hooks {
		r.hooks = append(r.hooks, hook)

		known := false
		if h, ok := hook.(CleanupHook); ok {
			r.cleanupHooks = append(r.cleanupHooks, h)
			known = true
		}
		if h, ok := hook.(TierHook); ok {
			r.tierHooks = append(r.tierHooks, h)
			known = true
		}
		if h, ok := hook.(ErrorHook); ok {
			r.errorHooks = append(r.errorHooks, h)
			known = true
		}
		if !known {
			slog.Warn(fmt.Sprintf("unknown hook type: %T", hook))
		}
	}
}

// CleanupHooks returns all cleanup hooks
func (r *Registry) CleanupHooks() []CleanupHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CleanupHook(nil), r.cleanupHooks...)
}

// TierHooks returns all tier hooks
func (r *Registry) TierHooks() []TierHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TierHook(nil), r.tierHooks...)
}

// ErrorHooks returns all error hooks
func (r *Registry) ErrorHooks() []ErrorHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ErrorHook(nil), r.errorHooks...)
}

// All returns all registered hooks
func (r *Registry) All() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hook(nil), r.hooks...)
}

// FuncCleanup adapts a function to CleanupHook
type FuncCleanup struct {
	HookName string
	Fn       func(ctx context.Context) error
}

// Name implements Hook
func (f FuncCleanup) Name() string { return f.HookName }

// ClearCache implements CleanupHook
func (f FuncCleanup) ClearCache(ctx context.Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}
