package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

func runForget(args []string) int {
	path := repoPathFromArgs(args)

	svc, err := newService(slog.Default(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	if err := svc.ForgetRepository(context.Background(), path); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	fmt.Println("forgotten")
	return 0
}
