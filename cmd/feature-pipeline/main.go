package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrianthees/mlfs-book/internal/app"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// main appends one day of features for every configured sensor.
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

	app.Run(ctx, "feature-pipeline")
}
