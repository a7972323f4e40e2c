package orchestrator

import (
	"github.com/allyourbase/seedcache/internal/fingerprint"
	"github.com/allyourbase/seedcache/internal/fixtures"
	"github.com/allyourbase/seedcache/internal/migrations"
	"github.com/allyourbase/seedcache/internal/refs"
)

// session is the per-exercise state built by CacheFixtures.
type session struct {
	set         *fixtures.Set
	migrations  []migrations.File
	fingerprint fingerprint.Fingerprint
	refs        *refs.Repository
}

func newSession() *session {
	return &session{set: fixtures.NewSet()}
}

// repository returns the reference repository, creating it on first use.
func (s *session) repository() *refs.Repository {
	if s.refs == nil {
		s.refs = refs.New()
	}
	return s.refs
}

// reset drops per-group state, keeping what CacheFixtures computed.
func (s *session) reset() {
	s.refs = nil
}
