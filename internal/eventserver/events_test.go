package eventserver

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rybkr/gitresync/internal/statestore"
)

func TestNotifierHashStartedBroadcastsEvent(t *testing.T) {
	n := NewNotifier()
	c := n.h.register()

	n.HashStarted(statestore.RepoId("repo1"), "a.txt")

	msg := <-c.send
	var evt Event
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Kind != EventHashStarted || evt.Subject != "a.txt" || evt.Repo != "repo1" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestNotifierSwitchFailedCarriesError(t *testing.T) {
	n := NewNotifier()
	c := n.h.register()

	n.SwitchFailed(statestore.RepoId("repo1"), errors.New("boom"))

	msg := <-c.send
	var evt Event
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Kind != EventSwitchFailed || evt.Err != "boom" {
		t.Fatalf("event = %+v", evt)
	}
}
