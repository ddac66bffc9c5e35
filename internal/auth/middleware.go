package auth

import (
	"context"
	"log"
	"net/http"
	"strings"
)

type contextKey string

// ClaimsKey is the context key used to store the authenticated caller's claims.
const ClaimsKey contextKey = "claims"

// TokenValidator validates access tokens. *TokenIssuer implements it.
type TokenValidator interface {
	Validate(token string) (Claims, error)
}

// RequireAuth middleware checks for a valid bearer token in the Authorization header.
// It validates the token and stores the caller's claims in the request context
// for use by downstream handlers. Returns 401 Unauthorized if authentication fails.
func RequireAuth(validator TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			log.Println("Auth: Missing or malformed Authorization header")
			writeUnauthorized(w)
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			log.Printf("Auth: Token validation failed: %v", err)
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// The scheme is matched case-insensitively (RFC 7235).
func BearerToken(r *http.Request) (string, bool) {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(strings.Join(fields[1:], " "))
	if token == "" {
		return "", false
	}
	return token, true
}

// GetClaimsFromContext returns the caller's claims from the context.
func GetClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(Claims)
	return claims, ok
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"detail":"Not authenticated"}` + "\n"))
}
