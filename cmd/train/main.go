package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrianthees/mlfs-book/internal/app"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// main trains both model variants on the stored features and registers them.
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

	app.Run(ctx, "train")
}
