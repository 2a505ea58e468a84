package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rybkr/gitresync/internal/termcolor"
)

func runBranches(args []string, cw *termcolor.Writer) int {
	path := repoPathFromArgs(args)

	svc, err := newService(slog.Default(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	names, err := svc.ListBranches(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	info, err := svc.GetRepositoryInfo(context.Background(), path)
	current := ""
	if err == nil {
		current = info.CurrentRef
	}

	for _, name := range names {
		if name == current {
			fmt.Printf("* %s\n", cw.Green(name))
		} else {
			fmt.Printf("  %s\n", name)
		}
	}
	return 0
}
