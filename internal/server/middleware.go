package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/allyourbase/seedcache/internal/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger logs every request once routing is done. Hook calls are
// logged at Info with the hook they hit; everything else, including health
// and metrics polling, at Debug.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"route", routePattern(r),
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}
			level := slog.LevelDebug
			if hook := hookName(r); hook != "" {
				level = slog.LevelInfo
				attrs = append(attrs, "hook", hook)
			}
			logger.Log(r.Context(), level, "hook request", attrs...)
		})
	}
}

// routePattern returns the matched chi pattern, or the raw path when
// nothing matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// hookName returns "group/event" for requests routed to a hook endpoint.
func hookName(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || !strings.HasPrefix(rctx.RoutePattern(), "/hooks/") {
		return ""
	}
	if group := rctx.URLParam("group"); group != "" {
		return group + "/" + rctx.URLParam("event")
	}
	return strings.TrimPrefix(rctx.RoutePattern(), "/hooks/")
}

// requireToken returns middleware that requires "Authorization: Bearer
// <token>". An empty token lets every request through.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := httputil.ExtractBearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.WriteError(w, http.StatusUnauthorized, "hook token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
