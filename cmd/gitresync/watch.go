package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/rybkr/gitresync/internal/statestore"
)

const watchPollInterval = 2 * time.Second

// watchSpinnerObserver mirrors spinnerObserver but for a long-running,
// multi-repository watch loop where the spinner text names which repo is
// currently being processed.
type watchSpinnerObserver struct {
	spinner *pterm.SpinnerPrinter
}

func (o *watchSpinnerObserver) HashStarted(repo statestore.RepoId, path string) {
	o.spinner.UpdateText(fmt.Sprintf("[%s] hashing %s", repo, path))
}
func (o *watchSpinnerObserver) HashFinished(statestore.RepoId, string) {}
func (o *watchSpinnerObserver) CheckoutStarted(repo statestore.RepoId, ref string) {
	o.spinner.UpdateText(fmt.Sprintf("[%s] checking out %s", repo, ref))
}
func (o *watchSpinnerObserver) CommitStarted(repo statestore.RepoId, branch string) {
	o.spinner.UpdateText(fmt.Sprintf("[%s] committing %s", repo, branch))
}
func (o *watchSpinnerObserver) SwitchFailed(repo statestore.RepoId, err error) {
	pterm.Warning.Printfln("[%s] %v", repo, err)
}

// runWatch polls each given repository's current ref and recomputes its
// sync requirement whenever the last indexed commit stored for that ref
// differs from the one seen at the previous poll, printing a running
// spinner. The commit compared is read from the state store, not from
// HEAD, so a new commit on the checked-out branch is not noticed until that
// branch's state is rewritten; the recomputed requirement is neither
// printed nor persisted. Unlike `serve`, this never opens an HTTP port — it is
// meant for a terminal left open on a developer's machine watching a
// handful of repositories they are actively switching between.
func runWatch(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gitresync watch <path> [path ...]")
		return 1
	}

	spinner, _ := pterm.DefaultSpinner.Start("watching repositories")
	observer := &watchSpinnerObserver{spinner: spinner}

	svc, err := newService(slog.Default(), observer)
	if err != nil {
		spinner.Fail(err.Error())
		return 1
	}

	lastCommit := make(map[string]string, len(args))
	for _, p := range args {
		if _, initErr := svc.Initialize(context.Background(), p); initErr != nil {
			spinner.Fail(fmt.Sprintf("initializing %s: %v", p, initErr))
			return 1
		}
		info, infoErr := svc.GetRepositoryInfo(context.Background(), p)
		if infoErr == nil {
			lastCommit[p] = info.LastIndexedCommit[info.CurrentRef]
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			spinner.Success("stopped")
			return 0
		case <-ticker.C:
			for _, p := range args {
				info, infoErr := svc.GetRepositoryInfo(ctx, p)
				if infoErr != nil {
					continue
				}
				head := info.LastIndexedCommit[info.CurrentRef]
				if head == "" || head == lastCommit[p] {
					continue
				}
				spinner.UpdateText(fmt.Sprintf("resyncing %s", p))
				if _, syncErr := svc.ComputeSyncRequirement(ctx, p, info.CurrentRef); syncErr != nil {
					pterm.Warning.Printfln("%s: %v", p, syncErr)
					continue
				}
				lastCommit[p] = head
			}
		}
	}
}
