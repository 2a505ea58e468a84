package eventserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealthReportsWatchedReposAndClients(t *testing.T) {
	s := NewServer(Config{Addr: ":0"})
	s.watchers["repo1"] = &repoWatcher{}
	s.notifier.h.register()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.WatchedRepos != 1 || status.ClientCount != 1 || status.Status != "ok" {
		t.Fatalf("status = %+v", status)
	}
}
