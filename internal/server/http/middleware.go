package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ozgurakan/marconi/internal/metrics"
	"github.com/ozgurakan/marconi/pkg/log"
)

// observe wraps every request with latency metrics and a debug log line.
// The metric label is the route pattern, not the raw path, so cardinality
// stays bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.
			WithLabelValues(route, statusClass(ww.Status())).
			Observe(elapsed.Seconds())
		s.logger.Debug("request",
			log.Str("method", r.Method),
			log.Str("route", route),
			log.Int("status", ww.Status()),
			log.Dur("elapsed", elapsed),
		)
	})
}

func statusClass(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return fmt.Sprintf("%dxx", code/100)
}

// project extracts the tenant scope. Requests without one are rejected
// before touching the engine.
func project(r *http.Request) (string, bool) {
	p := r.Header.Get(headerProject)
	return p, p != ""
}
