package httpserver

import (
	"net/http"

	"carelinkbridge/internal/http/handlers"
	"carelinkbridge/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	StatusHandler  *handlers.StatusHandler
	EntriesHandler *handlers.EntriesHandler
	HealthHandler  http.HandlerFunc
	StreamHandler  http.HandlerFunc
}

// NewRouter wires HTTP routes. The secret guard covers everything under
// /api/v1; /health stays open for probes.
func NewRouter(deps RouterDeps, secretMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))

	guarded := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, secretMiddleware)
	}

	mux.Handle("/api/v1/status", method(http.MethodGet, guarded(deps.StatusHandler.Get)))
	mux.Handle("/api/v1/entries", method(http.MethodGet, guarded(deps.EntriesHandler.List)))
	mux.Handle("/api/v1/stream", method(http.MethodGet, guarded(deps.StreamHandler)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
