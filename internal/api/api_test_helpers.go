package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/updateagent/internal/auth"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testCookieConfig = auth.RefreshCookieConfig{
	Name:     "refresh_token",
	MaxAge:   30 * 24 * time.Hour,
	SameSite: http.SameSiteLaxMode,
}

func strPtr(s string) *string { return &s }

func newTestIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer(testSecret, 15*time.Minute, nil)
}

// setupTestUser registers a tenant and a user with the given password.
func setupTestUser(t *testing.T, pool *pgxpool.Pool, email, password string) *models.User {
	t.Helper()

	hashed, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	_, user, err := db.RegisterTenantUser(context.Background(), pool, db.NewRegistration{
		TenantName:     "Tenant of " + email,
		Email:          email,
		HashedPassword: hashed,
	})
	if err != nil {
		t.Fatalf("Failed to register user: %v", err)
	}
	return user
}

// setupTestDraft stores a draft for a new client of the tenant.
func setupTestDraft(t *testing.T, pool *pgxpool.Pool, tenantID, subject string, clientEmail *string) *models.PendingUpdate {
	t.Helper()
	ctx := context.Background()

	client := &models.Client{TenantID: tenantID, DisplayName: "Client for " + subject, Email: clientEmail}
	if err := db.CreateClient(ctx, pool, client); err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	draft := &models.PendingUpdate{
		TenantID:  tenantID,
		ClientID:  client.ID,
		Subject:   subject,
		BodyHTML:  "<p>" + subject + "</p>",
		BodyPlain: strPtr(subject),
	}
	if err := db.CreatePendingUpdate(ctx, pool, draft); err != nil {
		t.Fatalf("Failed to create draft: %v", err)
	}
	return draft
}

// createRequestWithClaims creates an HTTP request with the caller's claims in context.
func createRequestWithClaims(method, url, body string, claims auth.Claims) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func claimsFor(user *models.User) auth.Claims {
	return auth.Claims{UserID: user.ID, TenantID: user.TenantID}
}

// FailingResponseWriter is a ResponseWriter that fails on Write to test error handling.
type FailingResponseWriter struct {
	http.ResponseWriter
	WriteShouldFail bool
}

func (f *FailingResponseWriter) Write(p []byte) (int, error) {
	if f.WriteShouldFail {
		return 0, fmt.Errorf("write failed")
	}
	return f.ResponseWriter.Write(p)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no claims are in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no claims in context")
}

// recordingNotifier collects change notifications.
type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) NotifyPendingUpdatesChanged(tenantID, id string) {
	n.events = append(n.events, tenantID+"/"+id)
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
