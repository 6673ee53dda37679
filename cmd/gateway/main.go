// Command gateway runs the vision gateway HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lenslab/vision-gateway/internal/app/runtime"
	"github.com/lenslab/vision-gateway/pkg/status"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

func main() {
	// A .env file is a development convenience; absence is not an error.
	_ = godotenv.Load()

	application, err := runtime.NewApplication(status.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vision-gateway: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vision-gateway: %v\n", err)
		os.Exit(1)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vision-gateway: shutdown: %v\n", err)
		os.Exit(1)
	}
}
