package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrianthees/mlfs-book/internal/app"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// main publishes forecasts and reconciles past predictions for monitoring.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infof("Received signal %s, shutting down.", sig)
		cancel()
	}()

	app.Run(ctx, "inference")
}
