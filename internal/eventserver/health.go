package eventserver

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus reports overall liveness plus how many repositories are
// currently being watched and how many clients are subscribed to the event
// feed. Unlike a single-repository server, there is no one "the" repository
// to report on here — watchedRepos can be zero if the server was started
// before any repository was registered.
type HealthStatus struct {
	Status       string    `json:"status"`
	WatchedRepos int       `json:"watched_repos"`
	ClientCount  int       `json:"client_count"`
	StartedAt    time.Time `json:"started_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.watchersMu.Lock()
	watched := len(s.watchers)
	s.watchersMu.Unlock()

	s.notifier.h.mu.Lock()
	clients := len(s.notifier.h.clients)
	s.notifier.h.mu.Unlock()

	status := HealthStatus{
		Status:       "ok",
		WatchedRepos: watched,
		ClientCount:  clients,
		StartedAt:    s.startedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
