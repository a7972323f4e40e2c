package server

import (
	"net/http"

	"github.com/allyourbase/seedcache/internal/hooks"
	"github.com/allyourbase/seedcache/internal/httputil"
	"github.com/allyourbase/seedcache/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

// hookResponse reports the orchestrator state after a hook ran. Handled is
// false for group hooks that do not match the configured lifetime.
type hookResponse struct {
	Hook    string              `json:"hook"`
	Handled bool                `json:"handled"`
	Status  orchestrator.Status `json:"status"`
}

// handleExercise runs once at the start of a test run.
func (s *Server) handleExercise(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.listener.BeforeExercise(r.Context())
	s.respond(w, "exercise.before", true, err)
}

// handleGroup serves POST /hooks/{feature|scenario}/{before|after}.
func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	group := hooks.Lifetime(chi.URLParam(r, "group"))
	event := chi.URLParam(r, "event")

	if group != hooks.LifetimeFeature && group != hooks.LifetimeScenario {
		httputil.WriteError(w, http.StatusNotFound, "unknown hook group "+string(group))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch event {
	case "before":
		err = s.listener.Before(r.Context(), group)
	case "after":
		err = s.listener.After(r.Context(), group)
	default:
		httputil.WriteError(w, http.StatusNotFound, "unknown hook event "+event)
		return
	}
	s.respond(w, string(group)+"."+event, s.listener.Handles(group), err)
}

func (s *Server) respond(w http.ResponseWriter, hook string, handled bool, err error) {
	if s.metrics != nil && handled {
		s.metrics.ObserveHook(hook, err)
	}
	if err != nil {
		s.logger.Error("hook failed", "hook", hook, "error", err)
		httputil.WriteError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hookResponse{
		Hook:    hook,
		Handled: handled,
		Status:  s.fixtures.Status(),
	})
}
