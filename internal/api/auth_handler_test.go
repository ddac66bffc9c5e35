package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/models"
	"github.com/vdavid/updateagent/internal/testutil"
)

func postJSON(url, body string) *http.Request {
	req := httptest.NewRequest("POST", url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withRefreshCookie(req *http.Request, value string) *http.Request {
	req.AddCookie(&http.Cookie{Name: testCookieConfig.Name, Value: value})
	return req
}

func TestAuthHandler_Login(t *testing.T) {
	pool := testutil.NewTestDB(t)
	issuer := newTestIssuer()
	handler := NewAuthHandler(pool, issuer, testCookieConfig)

	user := setupTestUser(t, pool, "login@example.com", "password123")

	t.Run("returns token and sets refresh cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.Login(rr, postJSON("/api/auth/login", `{"email":"login@example.com","password":"password123"}`))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp models.TokenResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "bearer", resp.TokenType)
		assert.Equal(t, user.ID, resp.UserID)
		assert.Equal(t, user.TenantID, resp.TenantID)
		assert.Equal(t, "login@example.com", resp.Email)

		claims, err := issuer.Validate(resp.AccessToken)
		assert.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)

		cookie := findCookie(rr, "refresh_token")
		if assert.NotNil(t, cookie) {
			assert.NotEmpty(t, cookie.Value)
			assert.True(t, cookie.HttpOnly)
			assert.Equal(t, "/api/auth", cookie.Path)
		}
	})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "wrong password",
			body:       `{"email":"login@example.com","password":"nope"}`,
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"detail":"Invalid email or password"}`,
		},
		{
			name:       "unknown email",
			body:       `{"email":"ghost@example.com","password":"password123"}`,
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"detail":"Invalid email or password"}`,
		},
		{
			name:       "missing fields",
			body:       `{}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"detail":[{"loc":["body","email"],"msg":"email is required"},{"loc":["body","password"],"msg":"password is required"}]}`,
		},
		{
			name:       "malformed email",
			body:       `{"email":"not-an-email","password":"x"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`,
		},
		{
			name:       "invalid JSON",
			body:       `{`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"detail":[{"loc":["body"],"msg":"Invalid JSON body"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.Login(rr, postJSON("/api/auth/login", tt.body))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
			assert.Nil(t, findCookie(rr, "refresh_token"))
		})
	}

	t.Run("inactive tenant is forbidden", func(t *testing.T) {
		inactive := setupTestUser(t, pool, "inactive@example.com", "password123")
		assert.NoError(t, db.SetTenantActive(context.Background(), pool, inactive.TenantID, false))

		rr := httptest.NewRecorder()
		handler.Login(rr, postJSON("/api/auth/login", `{"email":"inactive@example.com","password":"password123"}`))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"detail":"Tenant inactive"}`, rr.Body.String())
	})
}

func TestAuthHandler_Register(t *testing.T) {
	pool := testutil.NewTestDB(t)
	handler := NewAuthHandler(pool, newTestIssuer(), testCookieConfig)

	t.Run("creates tenant and user", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.Register(rr, postJSON("/api/auth/register",
			`{"email":"new@example.com","password":"pw","full_name":null,"tenant_name":"Acme Co"}`))

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp models.TokenResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.True(t, resp.Complete())
		assert.NotNil(t, findCookie(rr, "refresh_token"))

		tenant, err := db.GetTenant(context.Background(), pool, resp.TenantID)
		assert.NoError(t, err)
		assert.Equal(t, "acme-co", tenant.Slug)

		user, err := db.GetUserByEmail(context.Background(), pool, "new@example.com")
		assert.NoError(t, err)
		assert.Nil(t, user.FullName)
	})

	t.Run("missing tenant name", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.Register(rr, postJSON("/api/auth/register",
			`{"email":"x@example.com","password":"pw","full_name":null}`))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "tenant_name is required", models.DetailMessage(rr.Body.Bytes(), "Registration failed"))
	})

	t.Run("duplicate email", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.Register(rr, postJSON("/api/auth/register",
			`{"email":"new@example.com","password":"pw","tenant_name":"Other"}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"detail":"Email already registered"}`, rr.Body.String())
	})
}

func TestAuthHandler_RefreshAndLogout(t *testing.T) {
	pool := testutil.NewTestDB(t)
	handler := NewAuthHandler(pool, newTestIssuer(), testCookieConfig)

	user := setupTestUser(t, pool, "refresh@example.com", "password123")

	login := func(t *testing.T) string {
		t.Helper()
		rr := httptest.NewRecorder()
		handler.Login(rr, postJSON("/api/auth/login", `{"email":"refresh@example.com","password":"password123"}`))
		cookie := findCookie(rr, "refresh_token")
		if cookie == nil {
			t.Fatalf("Expected refresh cookie, got status %d", rr.Code)
		}
		return cookie.Value
	}

	t.Run("missing cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.Refresh(rr, postJSON("/api/auth/refresh", ""))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"detail":"Missing refresh token"}`, rr.Body.String())
		if cookie := findCookie(rr, "refresh_token"); assert.NotNil(t, cookie) {
			assert.True(t, cookie.MaxAge < 0)
		}
	})

	t.Run("rotates the cookie", func(t *testing.T) {
		old := login(t)

		rr := httptest.NewRecorder()
		handler.Refresh(rr, withRefreshCookie(postJSON("/api/auth/refresh", ""), old))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp models.TokenResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, user.ID, resp.UserID)

		rotated := findCookie(rr, "refresh_token")
		if assert.NotNil(t, rotated) {
			assert.NotEqual(t, old, rotated.Value)
		}

		rr = httptest.NewRecorder()
		handler.Refresh(rr, withRefreshCookie(postJSON("/api/auth/refresh", ""), old))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"detail":"Invalid or expired refresh token"}`, rr.Body.String())
	})

	t.Run("logout revokes the token", func(t *testing.T) {
		token := login(t)

		rr := httptest.NewRecorder()
		handler.Logout(rr, withRefreshCookie(postJSON("/api/auth/logout", ""), token))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"detail":"Logged out"}`, rr.Body.String())
		if cookie := findCookie(rr, "refresh_token"); assert.NotNil(t, cookie) {
			assert.True(t, cookie.MaxAge < 0)
		}

		rr = httptest.NewRecorder()
		handler.Refresh(rr, withRefreshCookie(postJSON("/api/auth/refresh", ""), token))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("logout without cookie still succeeds", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.Logout(rr, postJSON("/api/auth/logout", ""))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("inactive tenant is forbidden and cookie cleared", func(t *testing.T) {
		token := login(t)
		assert.NoError(t, db.SetTenantActive(context.Background(), pool, user.TenantID, false))
		defer func() {
			_ = db.SetTenantActive(context.Background(), pool, user.TenantID, true)
		}()

		rr := httptest.NewRecorder()
		handler.Refresh(rr, withRefreshCookie(postJSON("/api/auth/refresh", ""), token))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"detail":"Tenant inactive"}`, rr.Body.String())
		if cookie := findCookie(rr, "refresh_token"); assert.NotNil(t, cookie) {
			assert.True(t, cookie.MaxAge < 0)
		}
	})
}

func TestAuthHandler_RefreshKeepsCookieOnServerError(t *testing.T) {
	pool := testutil.NewTestDB(t)
	handler := NewAuthHandler(pool, newTestIssuer(), testCookieConfig)
	ctx := context.Background()

	setupTestUser(t, pool, "flaky@example.com", "password123")

	rr := httptest.NewRecorder()
	handler.Login(rr, postJSON("/api/auth/login", `{"email":"flaky@example.com","password":"password123"}`))
	cookie := findCookie(rr, "refresh_token")
	if cookie == nil {
		t.Fatalf("Expected refresh cookie, got status %d", rr.Code)
	}

	// Tenant lookups fail while the table is out of place.
	if _, err := pool.Exec(ctx, `ALTER TABLE tenants RENAME TO tenants_offline`); err != nil {
		t.Fatalf("Failed to rename tenants: %v", err)
	}

	rr = httptest.NewRecorder()
	handler.Refresh(rr, withRefreshCookie(postJSON("/api/auth/refresh", ""), cookie.Value))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Nil(t, findCookie(rr, "refresh_token"))

	if _, err := pool.Exec(ctx, `ALTER TABLE tenants_offline RENAME TO tenants`); err != nil {
		t.Fatalf("Failed to restore tenants: %v", err)
	}

	rr = httptest.NewRecorder()
	handler.Refresh(rr, withRefreshCookie(postJSON("/api/auth/refresh", ""), cookie.Value))
	assert.Equal(t, http.StatusOK, rr.Code)
	if rotated := findCookie(rr, "refresh_token"); assert.NotNil(t, rotated) {
		assert.NotEqual(t, cookie.Value, rotated.Value)
	}
}
