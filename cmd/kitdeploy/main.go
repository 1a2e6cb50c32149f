package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/saaskit/kitdeploy/cmd/kitdeploy/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Cancel the context on interrupt so in-flight polls stop and the run is
	// recorded as failed.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err != nil {
		fmt.Fprint(os.Stderr, commands.Diagnose(err))
	}
	cancel()
	os.Exit(commands.ExitCode(err))
}
