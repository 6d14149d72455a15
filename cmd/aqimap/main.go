// Package main provides the entrypoint for the aqimap command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/breatheroute/aqimap/internal/cli"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := cli.Execute(ctx, os.Args[1:], cli.Dependencies{
		Version:   Version,
		BuildTime: BuildTime,
	}, os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}
