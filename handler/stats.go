package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/deeplooplabs/perfopt/memory"
	"github.com/deeplooplabs/perfopt/optimizer"
	"github.com/deeplooplabs/perfopt/rules"
)

// StatsSource is what the stats handler reads from
type StatsSource interface {
	CacheStats() optimizer.StatsReport
	Rules(domain rules.Domain) (map[string]any, bool)
}

// MemorySource optionally adds the last memory reading to the stats
type MemorySource interface {
	LastMemory() (memory.Snapshot, memory.State)
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	Cache  optimizer.StatsReport `json:"cache"`
	Memory *MemoryReport         `json:"memory,omitempty"`
}

// MemoryReport is the memory section of the stats
type MemoryReport struct {
	State         string  `json:"state"`
	RenderPercent float64 `json:"renderPercent"`
	HeapPercent   float64 `json:"heapPercent"`
}

// StatsHandler serves cache statistics, recommendations and rules
type StatsHandler struct {
	source StatsSource
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(source StatsSource) *StatsHandler {
	return &StatsHandler{source: source}
}

// ServeHTTP implements http.Handler. GET <prefix> returns the statistics and
// GET <prefix>/rules/{domain} returns one rule bundle.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, NewMethodNotAllowedError("only GET method is allowed"))
		return
	}

	if idx := strings.Index(r.URL.Path, "/rules/"); idx >= 0 {
		h.serveRules(w, rules.Domain(r.URL.Path[idx+len("/rules/"):]))
		return
	}

	resp := StatsResponse{Cache: h.source.CacheStats()}
	if ms, ok := h.source.(MemorySource); ok {
		snap, state := ms.LastMemory()
		resp.Memory = &MemoryReport{
			State:         state.String(),
			RenderPercent: snap.RenderPercent,
			HeapPercent:   snap.HeapPercent,
		}
	}

	writeJSON(w, resp)
}

func (h *StatsHandler) serveRules(w http.ResponseWriter, domain rules.Domain) {
	values, ok := h.source.Rules(domain)
	if !ok {
		writeError(w, NewNotFoundError("unknown rule domain: "+string(domain)))
		return
	}
	writeJSON(w, values)
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, NewInternalError("failed to encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
