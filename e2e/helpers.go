package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/deeplooplabs/perfopt/handler"
	"github.com/deeplooplabs/perfopt/memory"
	"github.com/deeplooplabs/perfopt/optimizer"
	"github.com/deeplooplabs/perfopt/transform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

// TestEnvironment provides a host server wired to an optimizer with a
// controllable memory signal
type TestEnvironment struct {
	Server    *httptest.Server
	Optimizer *optimizer.Optimizer
	Sampler   *memory.StaticSampler
	Collector *memory.CountingCollector
	HostCache *MockHostCache
	T         *testing.T
}

// NewTestEnvironment creates a new test environment with a calm memory reading
func NewTestEnvironment(t *testing.T, opts ...optimizer.Option) *TestEnvironment {
	sampler := memory.NewStaticSampler(40, 40)
	collector := &memory.CountingCollector{}
	hostCache := NewMockHostCache()
	reg := prometheus.NewRegistry()

	base := []optimizer.Option{
		optimizer.WithSampler(sampler),
		optimizer.WithCollector(collector),
		optimizer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		optimizer.WithMetrics(optimizer.NewMetrics("e2e", reg)),
		optimizer.WithHook(hostCache),
	}
	opt := optimizer.New(append(base, opts...)...)

	mux := http.NewServeMux()
	mux.Handle("/items", opt.Middleware(&itemsHandler{opt: opt, hostCache: hostCache}))
	mux.Handle("/stats", handler.NewStatsHandler(opt))
	mux.Handle("/stats/", handler.NewStatsHandler(opt))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := httptest.NewServer(mux)

	env := &TestEnvironment{
		Server:    server,
		Optimizer: opt,
		Sampler:   sampler,
		Collector: collector,
		HostCache: hostCache,
		T:         t,
	}
	t.Cleanup(env.Close)
	return env
}

// Close shuts down the test server
func (e *TestEnvironment) Close() {
	e.Server.Close()
}

// Get performs a GET against the test server
func (e *TestEnvironment) Get(path string) *http.Response {
	resp, err := http.Get(e.Server.URL + path)
	require.NoError(e.T, err)
	e.T.Cleanup(func() { resp.Body.Close() })
	return resp
}

// GetJSON performs a GET and decodes the JSON body into v
func (e *TestEnvironment) GetJSON(path string, v any) *http.Response {
	resp := e.Get(path)
	require.NoError(e.T, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

// itemsHandler serves a fixed list through the cache and response transforms
type itemsHandler struct {
	opt       *optimizer.Optimizer
	hostCache *MockHostCache
}

func (h *itemsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 0 {
		count = 50
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	key := fmt.Sprintf("items:%d", count)
	items, ok := h.opt.GetCache(key)
	if ok {
		w.Header().Set("X-Items-Cache", "hit")
	} else {
		items = makeItems(count)
		h.opt.SetCache(key, items, 0)
	}
	h.hostCache.Put(key)

	resp, err := h.opt.OptimizeResponse(items, transform.ResponseOptions{
		Page:   page,
		Limit:  limit,
		Redact: r.URL.Query().Get("redact") == "true",
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func makeItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{
			"id":       i,
			"name":     fmt.Sprintf("item %d", i),
			"apiToken": "t-" + strconv.Itoa(i),
		}
	}
	return items
}

// MockHostCache is a host-owned cache registered as a cleanup hook
type MockHostCache struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	clears int
	fail   error
}

// NewMockHostCache creates an empty host cache
func NewMockHostCache() *MockHostCache {
	return &MockHostCache{keys: make(map[string]struct{})}
}

func (m *MockHostCache) Name() string {
	return "mock-host-cache"
}

// Put records a key
func (m *MockHostCache) Put(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
}

// Len returns the number of recorded keys
func (m *MockHostCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Clears returns how many times the cache was cleared
func (m *MockHostCache) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// SetError makes ClearCache fail after emptying the cache
func (m *MockHostCache) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockHostCache) ClearCache(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = make(map[string]struct{})
	m.clears++
	return m.fail
}
