package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"devstack/cmd"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cmd.SetVersion(version)

	// Interrupts cancel the command: issued backend actions finish, nothing
	// new is started.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
