package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestRequireAuth(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour, nil)
	validToken, err := issuer.Issue("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaimsFromContext(r.Context())
		if !ok {
			t.Error("Expected claims in context")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(claims.UserID + "/" + claims.TenantID))
		if err != nil {
			t.Errorf("Failed to write response: %v", err)
			return
		}
	})

	authHandler := RequireAuth(issuer, handler)

	t.Run("allows request with valid Bearer token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+validToken)

		rr := httptest.NewRecorder()
		authHandler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-1/tenant-1", rr.Body.String())
	})

	t.Run("accepts lowercase scheme", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "bearer "+validToken)

		rr := httptest.NewRecorder()
		authHandler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "rejects request without Authorization header", header: ""},
		{name: "rejects request with invalid Authorization format", header: "InvalidFormat"},
		{name: "rejects request with wrong auth scheme", header: "Basic abcd_abcd_abcd"},
		{name: "rejects empty token", header: "Bearer "},
		{name: "rejects forged token", header: "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rr := httptest.NewRecorder()
			authHandler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
			assert.JSONEq(t, `{"detail":"Not authenticated"}`, rr.Body.String())
		})
	}
}

func TestGetClaimsFromContext(t *testing.T) {
	t.Run("returns claims when present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		ctx := WithClaims(req.Context(), Claims{UserID: "u1", TenantID: "t1"})

		claims, ok := GetClaimsFromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, Claims{UserID: "u1", TenantID: "t1"}, claims)
	})

	t.Run("returns false when not present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)

		claims, ok := GetClaimsFromContext(req.Context())
		assert.False(t, ok)
		assert.Equal(t, Claims{}, claims)
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer   abc123  ")

	token, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
}
