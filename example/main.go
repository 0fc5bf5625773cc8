package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/deeplooplabs/perfopt/config"
	"github.com/deeplooplabs/perfopt/handler"
	"github.com/deeplooplabs/perfopt/hook"
	"github.com/deeplooplabs/perfopt/optimizer"
	"github.com/deeplooplabs/perfopt/transform"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using system environment variables")
	} else {
		slog.Info("Loaded .env file")
	}

	cfg := config.NewDefault()
	if path := os.Getenv("PERFOPT_CONFIG"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			log.Fatal(err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	slog.Info("Configuration",
		"listen_addr", cfg.Global.ListenAddr,
		"cache_max_entries", cfg.Cache.MaxEntries,
		"memory_limit", cfg.Memory.LimitBytes,
		"maintenance_interval", cfg.Memory.MaintenanceInterval,
	)

	renders := &renderCache{}
	hooks := hook.NewRegistry()
	hooks.Register(&TierLoggingHook{}, &ErrorHook{}, renders)

	reg := prometheus.NewRegistry()
	opts := append(cfg.Options(),
		optimizer.WithLogger(logger),
		optimizer.WithHooks(hooks),
	)
	if cfg.Monitoring.MetricsEnabled {
		opts = append(opts, optimizer.WithMetrics(optimizer.NewMetrics(cfg.Monitoring.Namespace, reg)))
	}
	opt := optimizer.New(opts...)

	if cfg.Memory.MaintenanceInterval > 0 {
		if err := opt.Start(context.Background(), cfg.Memory.MaintenanceInterval); err != nil {
			log.Fatal(err)
		}
		defer opt.Stop()
	}

	catalog := &partsHandler{opt: opt, renders: renders}

	mux := http.NewServeMux()
	mux.Handle("/parts", opt.Middleware(catalog))
	mux.Handle("/stats", handler.NewStatsHandler(opt))
	mux.Handle("/stats/", handler.NewStatsHandler(opt))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	slog.Info("Optimizer demo listening on " + cfg.Global.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.Global.ListenAddr, mux))
}

// partsHandler serves a synthetic parts catalog through the optimizer
type partsHandler struct {
	opt     *optimizer.Optimizer
	renders *renderCache
}

func (h *partsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	query, queryOpts := h.opt.OptimizeQuery(transform.Query{"category": r.URL.Query().Get("category")},
		transform.QueryOptions{Collection: "parts"})
	slog.DebugContext(r.Context(), "Optimized query", "query", query, "projection", queryOpts.Projection)

	key := "parts:" + r.URL.Query().Get("category")
	parts, ok := h.opt.GetCache(key)
	if !ok {
		parts = loadParts(query)
		h.opt.SetCache(key, parts, 0)
	}

	renderKey := fmt.Sprintf("%s:%d:%d", key, page, limit)
	if body, ok := h.renders.get(renderKey); ok {
		writeBody(w, body)
		return
	}

	resp, err := h.opt.OptimizeResponse(parts, transform.ResponseOptions{Page: page, Limit: limit, Redact: true})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.renders.set(renderKey, body)
	writeBody(w, body)
}

func writeBody(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// loadParts stands in for a database read
func loadParts(query transform.Query) []map[string]any {
	category, _ := query["category"].(string)
	if category == "" {
		category = "brakes"
	}
	parts := make([]map[string]any, 0, 120)
	for i := 0; i < 120; i++ {
		parts = append(parts, map[string]any{
			"_id":         i,
			"name":        fmt.Sprintf("%s part %d", category, i),
			"partNumber":  fmt.Sprintf("P-%05d", i),
			"category":    category,
			"price":       9.99 + float64(i),
			"quantity":    i % 7,
			"supplierKey": "internal",
		})
	}
	return parts
}

// renderCache holds encoded pages. It is a host cache the memory guardian
// clears in its emergency tier.
type renderCache struct {
	bodies sync.Map
}

func (c *renderCache) get(key string) ([]byte, bool) {
	v, ok := c.bodies.Load(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *renderCache) set(key string, body []byte) {
	c.bodies.Store(key, body)
}

func (c *renderCache) Name() string {
	return "render-cache"
}

func (c *renderCache) ClearCache(ctx context.Context) error {
	c.bodies.Clear()
	return nil
}

var _ hook.CleanupHook = new(renderCache)

// TierLoggingHook logs every cleanup tier that runs
type TierLoggingHook struct{}

func (h *TierLoggingHook) Name() string {
	return "tier-logging"
}

func (h *TierLoggingHook) OnTier(ctx context.Context, tier string) {
	slog.WarnContext(ctx, "[Hook] Cleanup tier ran", "tier", tier)
}

var _ hook.TierHook = new(TierLoggingHook)

type ErrorHook struct{}

func (h *ErrorHook) Name() string {
	return "error"
}

func (h *ErrorHook) OnError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "[Hook] OnError", "error", err)
}

var _ hook.ErrorHook = new(ErrorHook)
