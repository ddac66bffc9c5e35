// Package server wires the API handlers into one http.Handler.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/api"
	"github.com/vdavid/updateagent/internal/auth"
	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/mailer"
	ws "github.com/vdavid/updateagent/internal/websocket"
)

// Server is the assembled API. Hub is exposed so callers outside the HTTP
// surface, such as the drafting job, can notify connected clients.
type Server struct {
	Handler http.Handler
	Hub     *ws.Hub
	pool    *pgxpool.Pool
}

// New creates the API server for cfg. Mail is delivered through mailer.New(cfg)
// unless m is non-nil.
func New(cfg *config.Config, pool *pgxpool.Pool, m mailer.Mailer) *Server {
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, nil)
	cookie := auth.RefreshCookieConfig{
		Name:     cfg.RefreshCookieName,
		MaxAge:   cfg.RefreshCookieMaxAge,
		Secure:   cfg.CookieSecure,
		SameSite: cfg.CookieSameSite,
	}
	if m == nil {
		m = mailer.New(cfg)
	}
	hub := ws.NewHub(cfg.WebSocketMaxPerTenant)

	authHandler := api.NewAuthHandler(pool, issuer, cookie)
	updatesHandler := api.NewPendingUpdatesHandler(pool, m, hub)
	wsHandler := api.NewWebSocketHandler(issuer, hub)

	protected := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(issuer, h)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)

	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)

	mux.Handle("GET /api/pending-updates", protected(updatesHandler.List))
	mux.Handle("GET /api/pending-updates/{id}", protected(updatesHandler.Get))
	mux.Handle("PATCH /api/pending-updates/{id}", protected(updatesHandler.Edit))
	mux.Handle("DELETE /api/pending-updates/{id}", protected(updatesHandler.Delete))
	mux.Handle("POST /api/pending-updates/{id}/send", protected(updatesHandler.Send))

	// The websocket handler authenticates itself so the token can also come
	// from a query parameter.
	mux.HandleFunc("GET /api/ws", wsHandler.Handle)

	if cfg.Environment == "test" {
		testHandler := api.NewTestHandler(pool, hub)
		mux.Handle("POST /test/pending-updates", protected(testHandler.AddPendingUpdate))
	}

	return &Server{Handler: mux, Hub: hub, pool: pool}
}

// SweepRefreshTokens deletes expired refresh tokens every interval until ctx
// is done.
func (s *Server) SweepRefreshTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			deleted, err := db.DeleteExpiredRefreshTokens(ctx, s.pool, now)
			if err != nil {
				log.Printf("Server: Failed to sweep refresh tokens: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Server: Deleted %d expired refresh tokens", deleted)
			}
		}
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Update Agent API is running")
}
