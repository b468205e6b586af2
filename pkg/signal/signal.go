// Package signal blocks the main goroutine until a shutdown signal arrives,
// then runs the caller's teardown with a timeout.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// WaitForShutdown waits for SIGINT/SIGTERM and then runs shutdownFunc,
// giving it shutdownTimeout to finish before the process exits anyway.
func WaitForShutdown(log *zap.Logger, shutdownFunc func() error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info("service is running, waiting for shutdown signal (SIGINT/SIGTERM)")
	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- shutdownFunc()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		} else {
			log.Info("graceful shutdown completed")
		}
	case <-ctx.Done():
		log.Error("graceful shutdown timed out", zap.Error(ctx.Err()))
	}
}
