package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
)

func runSync(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gitresync sync <branch> [path]")
		return 1
	}
	branch := args[0]
	path := "."
	if len(args) > 1 {
		path = args[1]
	}

	svc, err := newService(slog.Default(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	req, err := svc.ComputeSyncRequirement(context.Background(), path, branch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	data := pterm.TableData{
		{"", "count"},
		{"add", fmt.Sprintf("%d", len(req.FilesToAdd))},
		{"update", fmt.Sprintf("%d", len(req.FilesToUpdate))},
		{"remove", fmt.Sprintf("%d", len(req.FilesToRemove))},
	}

	pterm.DefaultSection.Printfln("%s sync: %s -> %s", req.SyncType, req.FromCommit, req.ToCommit)
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	fmt.Printf("estimated cost: %d\n", req.EstimatedCost)
	return 0
}
