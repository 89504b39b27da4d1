// Package shutdown provides graceful HTTP server shutdown with connection
// draining. Both llmgate listeners exit 0 on a clean drain.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// GracefulServe starts the HTTP server and blocks until SIGTERM or SIGINT.
// On signal it stops accepting new connections, drains active ones up to
// drainTimeout, then returns.
func GracefulServe(srv *http.Server, drainTimeout time.Duration, log *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	log.Info("draining connections", "timeout", drainTimeout.String())
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		return err
	}

	log.Info("server stopped cleanly")
	return nil
}
