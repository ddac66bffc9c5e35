package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/auth"
	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/models"
	"github.com/vdavid/updateagent/internal/server"
	"github.com/vdavid/updateagent/internal/testutil"
)

const (
	testEmail    = "test@example.com"
	testPassword = "password123"
)

func main() {
	ctx := context.Background()

	// Start Postgres database
	log.Println("Starting test Postgres database...")
	postgresContainer, connStr, err := testutil.StartPostgres(ctx)
	if err != nil {
		log.Fatalf("Failed to start Postgres: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate Postgres container: %v", err)
		}
	}()
	log.Println("Test Postgres database started")

	// Start test SMTP server
	smtpServer, err := testutil.StartSMTPServer("127.0.0.1:0")
	if err != nil {
		log.Fatalf("Failed to start SMTP server: %v", err)
	}
	defer smtpServer.Close()
	log.Printf("Test SMTP server started on %s", smtpServer.Address)

	// Setup database connection and run migrations
	pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to setup database: %v", err)
	}
	defer pool.Close()

	if err := seedTestData(ctx, pool); err != nil {
		log.Fatalf("Failed to seed test data: %v", err)
	}

	if err := startHTTPServer(testConfig(smtpServer.Address), pool, smtpServer); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// testConfig builds the server configuration without touching the environment.
func testConfig(smtpAddress string) *config.Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return &config.Config{
		Environment:           "test",
		Port:                  port,
		Timezone:              "UTC",
		JWTSecret:             "test-secret-0123456789abcdef0123456789",
		AccessTokenTTL:        15 * time.Minute,
		RefreshCookieName:     "refresh_token",
		RefreshCookieMaxAge:   30 * 24 * time.Hour,
		CookieSameSite:        http.SameSiteLaxMode,
		SMTPAddress:           smtpAddress,
		MailFrom:              "updates@example.com",
		WebSocketMaxPerTenant: 10,
	}
}

// setupDatabase creates a database connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := testutil.NewPool(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := testutil.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Successfully connected to database and ran migrations")
	return pool, nil
}

// seedTestData creates the test tenant and user, and a few drafts in every state.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	hashed, err := auth.HashPassword(testPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fullName := "Test User"
	tenant, _, err := db.RegisterTenantUser(ctx, pool, db.NewRegistration{
		TenantName:     "Test Agency",
		Email:          testEmail,
		HashedPassword: hashed,
		FullName:       &fullName,
	})
	if err != nil {
		return fmt.Errorf("failed to create test user: %w", err)
	}

	clientEmail := "billing@globex.example.com"
	client := &models.Client{TenantID: tenant.ID, DisplayName: "Globex", Email: &clientEmail}
	if err := db.CreateClient(ctx, pool, client); err != nil {
		return err
	}

	now := time.Now()
	drafts := []struct {
		subject string
		body    string
		status  models.Status
		age     time.Duration
	}{
		{"Weekly progress: homepage redesign", "We shipped the new hero section and fixed the contact form.", models.StatusPending, 3 * time.Hour},
		{"Invoice reminder", "A friendly reminder that invoice 1042 is due on Friday.", models.StatusPending, 2 * time.Hour},
		{"Launch recap", "The launch went smoothly. Traffic is up 40 percent.", models.StatusSent, time.Hour},
	}

	for _, d := range drafts {
		createdAt := now.Add(-d.age)
		body := d.body
		update := &models.PendingUpdate{
			TenantID:  tenant.ID,
			ClientID:  client.ID,
			Subject:   d.subject,
			BodyHTML:  "<p>" + d.body + "</p>",
			BodyPlain: &body,
			Status:    d.status,
			CreatedAt: &createdAt,
		}
		if err := db.CreatePendingUpdate(ctx, pool, update); err != nil {
			return err
		}
	}

	log.Printf("Seeded test user %s with %d drafts", testEmail, len(drafts))
	return nil
}

// startHTTPServer starts the HTTP server and waits for shutdown signals.
func startHTTPServer(cfg *config.Config, pool *pgxpool.Pool, smtpServer *testutil.TestSMTPServer) error {
	srv := server.New(cfg, pool, nil)
	address := ":" + cfg.Port

	log.Printf("Update Agent test server starting on %s", address)
	log.Printf("Test user: %s (password: %s)", testEmail, testPassword)
	log.Printf("Test SMTP server: %s", smtpServer.Address)
	log.Println("Server ready for E2E tests. Press Ctrl+C to stop.")

	serverErr := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(address, srv.Handler); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}
