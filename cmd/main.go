package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/learnloop/chatrelay/internal/config"
)

// These variables are set at build time via -ldflags
var (
	version = "dev"     // Set via -X main.version=...
	commit  = "unknown" // Set via -X main.commit=...
	date    = "unknown" // Set via -X main.date=...
)

func main() {
	config.SetVersion(version)

	// Cancelled on SIGINT/SIGTERM; the start command shuts down on it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Execute(ctx)
}
