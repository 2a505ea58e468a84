package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/rybkr/gitresync/internal/termcolor"
)

func runInfo(args []string, cw *termcolor.Writer) int {
	path := repoPathFromArgs(args)

	svc, err := newService(slog.Default(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	info, err := svc.GetRepositoryInfo(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	if info.Detached {
		fmt.Printf("HEAD detached at %s\n", info.CurrentRef)
	} else {
		fmt.Printf("On branch %s\n", cw.Green(info.CurrentRef))
	}

	branches := make([]string, len(info.TrackedBranches))
	copy(branches, info.TrackedBranches)
	sort.Strings(branches)

	fmt.Println("\nIndexed branches:")
	for _, b := range branches {
		fmt.Printf("  %-30s %s  %s\n", b, info.LastIndexedCommit[b], info.MerkleRoot[b])
	}

	if len(info.Remotes) > 0 {
		names := make([]string, 0, len(info.Remotes))
		for name := range info.Remotes {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("\nRemotes:")
		for _, name := range names {
			fmt.Printf("  %-10s %s\n", name, info.Remotes[name])
		}
	}

	return 0
}
