// Command provenanced runs the content provenance ledger and its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/provenance_layer/internal/app"
	"github.com/R3E-Network/provenance_layer/internal/app/httpapi"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, exit, err := loadConfig(args)
	if err != nil || exit {
		return err
	}

	log := logger.New(cfg.Logging)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.WithError(err).Warn("close application")
		}
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.NewHandler(application, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).
			WithField("storage", cfg.Storage.Driver).
			WithField("version", version).
			Info("provenance layer listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			_ = application.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop services: %w", err)
	}
	log.Info("provenance layer stopped")
	return nil
}
