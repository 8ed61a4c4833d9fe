// Command wove-devserver runs a local story service that speaks the live
// session protocol, for developing and testing the client.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wove/internal/backend"
	"wove/internal/config"
	"wove/internal/observability"
	"wove/internal/storage"
	"wove/internal/websocket"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}

func run(ctx context.Context, cfg config.Server) error {
	logger := observability.Configure(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	// Initialize database with performance optimizations
	db, err := storage.InitDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := backend.NewService(db, logger)
	hub := websocket.NewHub(svc, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	api := backend.NewAPI(db, hub, svc, logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(cfg.AllowedOrigins, os.Stdout),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("wove dev server listening", "addr", cfg.Addr, "db", cfg.DBPath, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Live sockets are hijacked and not tracked by Shutdown; stopping the hub
	// closes them.
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}
