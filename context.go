package perfopt

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context represents the request context seen by the optimization middleware
type Context struct {
	RequestID   string
	StartTime   time.Time
	OriginalReq *http.Request
	Metadata    map[string]any
	mu          sync.RWMutex
}

type contextKey struct{}

// NewContext creates a new request context
func NewContext(req *http.Request) *Context {
	return &Context{
		RequestID:   uuid.New().String(),
		StartTime:   time.Now(),
		OriginalReq: req,
		Metadata:    make(map[string]any),
	}
}

// Set stores a value in the context metadata
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metadata[key] = value
}

// Get retrieves a value from the context metadata
func (c *Context) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Metadata[key]
}

// WithContext attaches the request context to ctx
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the request context attached to ctx, if any
func FromContext(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(contextKey{}).(*Context)
	return rc, ok
}
