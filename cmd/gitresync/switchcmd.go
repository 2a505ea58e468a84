package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/rybkr/gitresync/internal/reposvc"
	"github.com/rybkr/gitresync/internal/statestore"
)

// spinnerObserver drives a pterm spinner from branchswitcher lifecycle
// events so `gitresync switch` gives feedback during a long rehash.
type spinnerObserver struct {
	spinner *pterm.SpinnerPrinter
}

func (o *spinnerObserver) HashStarted(_ statestore.RepoId, path string) {
	if o.spinner != nil {
		o.spinner.UpdateText(fmt.Sprintf("hashing %s", path))
	}
}

func (o *spinnerObserver) HashFinished(statestore.RepoId, string) {}

func (o *spinnerObserver) CheckoutStarted(_ statestore.RepoId, ref string) {
	if o.spinner != nil {
		o.spinner.UpdateText(fmt.Sprintf("checking out %s", ref))
	}
}

func (o *spinnerObserver) CommitStarted(_ statestore.RepoId, branch string) {
	if o.spinner != nil {
		o.spinner.UpdateText(fmt.Sprintf("committing state for %s", branch))
	}
}

func (o *spinnerObserver) SwitchFailed(statestore.RepoId, error) {}

func runSwitch(args []string) int {
	var target, path string
	force := false
	autoResync := true

	var positional []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--force":
			force = true
		case "--no-auto-resync":
			autoResync = false
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gitresync switch [--force] [--no-auto-resync] <ref> [path]")
		return 1
	}
	target = positional[0]
	path = "."
	if len(positional) > 1 {
		path = positional[1]
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("switching to %s", target))
	observer := &spinnerObserver{spinner: spinner}

	svc, err := newService(slog.Default(), observer)
	if err != nil {
		spinner.Fail(err.Error())
		return 1
	}

	result, err := svc.SwitchBranch(context.Background(), path, target, reposvc.SwitchOptions{
		Force:      force,
		AutoResync: autoResync,
		Timeout:    2 * time.Minute,
	})
	if err != nil {
		spinner.Fail(err.Error())
		return 1
	}

	spinner.Success(fmt.Sprintf("switched to %s", target))

	data := pterm.TableData{
		{"field", "value"},
		{"sync type", result.SyncType.String()},
		{"files changed", fmt.Sprintf("%d", result.FilesChanged)},
		{"from", string(result.FromCommit)},
		{"to", string(result.ToCommit)},
		{"generation", fmt.Sprintf("%d", result.Generation)},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	return 0
}
