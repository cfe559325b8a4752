package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/3leaps/clipnimbus/internal/cmd"
	"github.com/3leaps/clipnimbus/internal/observability"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	os.Exit(cmd.ExitCode(err))
}
