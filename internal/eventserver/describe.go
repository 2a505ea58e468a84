package eventserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"

	"github.com/rybkr/gitresync/internal/statestore"
)

// repoInfoResponse is what GET /repos/{id} returns: the service's Info plus
// a rendered description, since operators commonly leave a short Markdown
// blurb in .git/description that a dashboard wants to display as HTML.
type repoInfoResponse struct {
	CurrentRef        string            `json:"current_ref"`
	Detached          bool              `json:"detached"`
	TrackedBranches   []string          `json:"tracked_branches"`
	LastIndexedCommit map[string]string `json:"last_indexed_commit"`
	MerkleRoot        map[string]string `json:"merkle_root"`
	Remotes           map[string]string `json:"remotes"`
	DescriptionHTML   string            `json:"description_html,omitempty"`
}

// handleRepoInfo serves GET /repos/{id}, looking up the repository's work
// directory from the set of watched repositories.
func (s *Server) handleRepoInfo(w http.ResponseWriter, r *http.Request) {
	id := statestore.RepoId(r.PathValue("id"))

	s.watchersMu.Lock()
	rw, ok := s.watchers[id]
	s.watchersMu.Unlock()
	if !ok {
		http.Error(w, "repository not watched", http.StatusNotFound)
		return
	}

	info, err := s.svc.GetRepositoryInfo(r.Context(), rw.workDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := repoInfoResponse{
		CurrentRef:        info.CurrentRef,
		Detached:          info.Detached,
		TrackedBranches:   info.TrackedBranches,
		LastIndexedCommit: info.LastIndexedCommit,
		MerkleRoot:        info.MerkleRoot,
		Remotes:           info.Remotes,
	}

	if html, err := renderDescription(rw.gitDir); err == nil {
		resp.DescriptionHTML = html
	} else {
		s.logger.Debug("no description rendered", "repo", id, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// renderDescription reads gitDir/description, if present and non-default,
// and renders it from Markdown to HTML via goldmark.
func renderDescription(gitDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, "description"))
	if err != nil {
		return "", err
	}
	// git init leaves a boilerplate line when no one has written a real
	// description; skip rendering it.
	if bytes.Contains(data, []byte("Unnamed repository;")) {
		return "", os.ErrNotExist
	}

	var buf bytes.Buffer
	if err := goldmark.Convert(data, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
