package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// RefreshCookiePath scopes the refresh cookie to the auth endpoints.
const RefreshCookiePath = "/api/auth"

// RefreshCookieConfig controls how the refresh cookie is written.
type RefreshCookieConfig struct {
	Name     string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

// NewRefreshToken returns a random opaque token suitable for the refresh cookie.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken returns the hex SHA-256 of the token. Only the hash is stored.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SetRefreshCookie writes the HttpOnly refresh cookie.
func SetRefreshCookie(w http.ResponseWriter, cfg RefreshCookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     RefreshCookiePath,
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// ClearRefreshCookie tells the browser to drop the refresh cookie.
func ClearRefreshCookie(w http.ResponseWriter, cfg RefreshCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})
}

// RefreshTokenFromRequest returns the refresh cookie value, or "" if absent.
func RefreshTokenFromRequest(r *http.Request, cfg RefreshCookieConfig) string {
	cookie, err := r.Cookie(cfg.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
