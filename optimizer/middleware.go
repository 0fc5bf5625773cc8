package optimizer

import (
	"net/http"

	"github.com/deeplooplabs/perfopt"
)

const (
	HeaderOptimizationEnabled = "X-Optimization-Enabled"
	HeaderCacheStatus         = "X-Cache-Status"
	HeaderRequestID           = "X-Request-ID"
)

// Middleware runs once per inbound request: it checks memory pressure,
// attaches the optimization headers and a request context, then calls next.
func (o *Optimizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := perfopt.NewContext(r)
		ctx := perfopt.WithContext(r.Context(), rc)

		o.metrics.observeRequest()
		if o.checkOnRequest {
			state := o.OptimizeMemory(ctx)
			rc.Set("memory_state", state.String())
		}

		w.Header().Set(HeaderOptimizationEnabled, "true")
		w.Header().Set(HeaderCacheStatus, "enabled")
		w.Header().Set(HeaderRequestID, rc.RequestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
