package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/allyourbase/seedcache/internal/testutil"
	"github.com/go-chi/chi/v5"
)

func TestRequestLoggerHookFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	noContent := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Get("/health", noContent)
	r.Group(func(r chi.Router) {
		r.Post("/hooks/exercise/before", noContent)
		r.Post("/hooks/{group}/{event}", noContent)
	})

	tests := []struct {
		method, path string
		level, hook  string
		route        string
	}{
		{http.MethodPost, "/hooks/scenario/before", "INFO", "scenario/before", "/hooks/{group}/{event}"},
		{http.MethodPost, "/hooks/exercise/before", "INFO", "exercise/before", "/hooks/exercise/before"},
		{http.MethodGet, "/health", "DEBUG", "", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			var entry map[string]any
			testutil.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			testutil.Equal(t, entry["level"], any(tt.level))
			testutil.Equal(t, entry["route"], any(tt.route))
			testutil.Equal(t, entry["status"], any(float64(http.StatusNoContent)))
			hook, _ := entry["hook"].(string)
			testutil.Equal(t, hook, tt.hook)
		})
	}
}
