package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rybkr/gitresync/internal/progress"
	"github.com/rybkr/gitresync/internal/termcolor"
)

func runInit(args []string, cw *termcolor.Writer) int {
	path := repoPathFromArgs(args)

	svc, err := newService(slog.Default(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	sp := progress.New("building initial index")
	sp.Start()
	id, err := svc.Initialize(context.Background(), path)
	sp.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	fmt.Printf("%s %s\n", cw.Green("registered"), id)
	return 0
}
