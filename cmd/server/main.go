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

	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/server"
)

const refreshTokenSweepInterval = time.Hour

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	srv := server.New(cfg, pool, nil)
	go srv.SweepRefreshTokens(ctx, refreshTokenSweepInterval)

	httpServer := newHTTPServer(cfg, srv.Handler)
	log.Printf("Update Agent API starting on %s (environment: %s)", httpServer.Addr, cfg.Environment)

	if err := serve(ctx, httpServer); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serve runs httpServer until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, httpServer *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serverErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
