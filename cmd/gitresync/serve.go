package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rybkr/gitresync/internal/eventserver"
)

func runServe(args []string) int {
	addr := ":8808"
	var watchPaths []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--addr" && i+1 < len(args) {
			addr = args[i+1]
			i++
			continue
		}
		watchPaths = append(watchPaths, args[i])
	}

	log := slog.Default()
	notifier := eventserver.NewNotifier()

	svc, err := newService(log, notifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	srv := eventserver.NewServer(eventserver.Config{
		Addr:     addr,
		Mode:     eventserver.ModeLocal,
		Service:  svc,
		Notifier: notifier,
		Logger:   log,
	})

	for _, p := range watchPaths {
		if _, err := svc.Initialize(context.Background(), p); err != nil {
			fmt.Fprintf(os.Stderr, "warning: initializing %s: %v\n", p, err)
			continue
		}
		if err := srv.WatchRepository(context.Background(), p); err != nil {
			fmt.Fprintf(os.Stderr, "warning: watching %s: %v\n", p, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		srv.Shutdown()
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
	}
	return 0
}
