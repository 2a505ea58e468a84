package eventserver

import (
	"encoding/json"
	"time"

	"github.com/rybkr/gitresync/internal/branchswitcher"
	"github.com/rybkr/gitresync/internal/statestore"
)

// EventKind names one of the lifecycle events the core emits (spec §6:
// hash_started, hash_finished, checkout_started, commit_started), plus
// switch_failed and external_change, which this package adds to give a
// connected dashboard full visibility into a watched repository.
type EventKind string

const (
	EventHashStarted     EventKind = "hash_started"
	EventHashFinished    EventKind = "hash_finished"
	EventCheckoutStarted EventKind = "checkout_started"
	EventCommitStarted   EventKind = "commit_started"
	EventSwitchFailed    EventKind = "switch_failed"
	EventExternalChange  EventKind = "external_change"
)

// Event is the wire representation of one lifecycle event.
type Event struct {
	Kind      EventKind         `json:"kind"`
	Repo      statestore.RepoId `json:"repo"`
	Subject   string            `json:"subject,omitempty"` // path, ref, or branch depending on Kind
	Err       string            `json:"err,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier implements branchswitcher.Observer by encoding every lifecycle
// event as an Event and broadcasting it to connected WebSocket clients.
// Observer calls must not block a mutating operation (spec §6); broadcast
// only enqueues onto per-client buffered channels, so Notifier's methods
// never wait on a slow client.
type Notifier struct {
	h *hub
}

var _ branchswitcher.Observer = (*Notifier)(nil)

// NewNotifier constructs a Notifier backed by a fresh hub. Pass the result
// as a reposvc.Config.Observer, then hand the same Notifier to NewServer so
// the HTTP server's /ws clients see the events the Notifier emits.
func NewNotifier() *Notifier {
	return &Notifier{h: newHub()}
}

func (n *Notifier) emit(repo statestore.RepoId, kind EventKind, subject, errMsg string) {
	evt := Event{Kind: kind, Repo: repo, Subject: subject, Err: errMsg, Timestamp: time.Now()}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	n.h.broadcast(data)
}

func (n *Notifier) HashStarted(repo statestore.RepoId, path string) {
	n.emit(repo, EventHashStarted, path, "")
}

func (n *Notifier) HashFinished(repo statestore.RepoId, path string) {
	n.emit(repo, EventHashFinished, path, "")
}

func (n *Notifier) CheckoutStarted(repo statestore.RepoId, ref string) {
	n.emit(repo, EventCheckoutStarted, ref, "")
}

func (n *Notifier) CommitStarted(repo statestore.RepoId, branch string) {
	n.emit(repo, EventCommitStarted, branch, "")
}

func (n *Notifier) SwitchFailed(repo statestore.RepoId, err error) {
	n.emit(repo, EventSwitchFailed, "", err.Error())
}
