package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rybkr/gitresync/internal/cli"
	"github.com/rybkr/gitresync/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	// --version is handled before app.Run because "--" prefixed args
	// would be treated as unknown commands by the dispatcher.
	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("gitresync", version)
	app.Stderr = os.Stderr

	app.Register(&cli.Command{
		Name:     "init",
		Summary:  "Register a repository and build its initial index",
		Usage:    "gitresync init [path]",
		Examples: []string{"gitresync init", "gitresync init ~/src/myrepo"},
		Run:      func(args []string) int { return runInit(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "branches",
		Summary:  "List tracked branches",
		Usage:    "gitresync branches [path]",
		Examples: []string{"gitresync branches"},
		Run:      func(args []string) int { return runBranches(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "switch",
		Summary: "Switch branches and resync the index",
		Usage:   "gitresync switch [--force] [--no-auto-resync] <ref> [path]",
		Examples: []string{
			"gitresync switch main",
			"gitresync switch --force feature/login",
		},
		Run: func(args []string) int { return runSwitch(args) },
	})

	app.Register(&cli.Command{
		Name:     "sync",
		Summary:  "Compute the resync requirement for a branch without switching",
		Usage:    "gitresync sync <branch> [path]",
		Examples: []string{"gitresync sync main"},
		Run:      func(args []string) int { return runSync(args) },
	})

	app.Register(&cli.Command{
		Name:     "info",
		Summary:  "Show repository state",
		Usage:    "gitresync info [path]",
		Examples: []string{"gitresync info"},
		Run:      func(args []string) int { return runInfo(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "forget",
		Summary:  "Remove all persisted state for a repository",
		Usage:    "gitresync forget [path]",
		Examples: []string{"gitresync forget"},
		Run:      func(args []string) int { return runForget(args) },
	})

	app.Register(&cli.Command{
		Name:    "serve",
		Summary: "Serve the lifecycle event feed over HTTP/WebSocket",
		Usage:   "gitresync serve [--addr :8808] [path ...]",
		Examples: []string{
			"gitresync serve ~/src/myrepo",
			"gitresync serve --addr :9000 repo1 repo2",
		},
		Run: func(args []string) int { return runServe(args) },
	})

	app.Register(&cli.Command{
		Name:    "watch",
		Summary: "Poll repositories in the terminal and recompute sync on indexed-commit changes",
		Usage:   "gitresync watch <path> [path ...]",
		Examples: []string{
			"gitresync watch .",
			"gitresync watch repo1 repo2",
		},
		Run: func(args []string) int { return runWatch(args) },
	})

	app.Register(&cli.Command{
		Name:    "update",
		Summary: "Update to the latest release",
		Usage:   "gitresync update [--check]",
		Examples: []string{
			"gitresync update",
			"gitresync update --check",
		},
		Run: func(args []string) int { return runUpdate(args) },
	})

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "gitresync version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("gitresync %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
