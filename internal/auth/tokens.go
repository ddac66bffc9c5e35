package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// ErrInvalidToken is returned when an access token cannot be trusted.
var ErrInvalidToken = errors.New("invalid access token")

// Claims identify the holder of an access token.
type Claims struct {
	UserID   string
	TenantID string
}

type accessClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`
}

// TokenIssuer signs and validates short-lived HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. now may be nil, in which case time.Now is used.
func NewTokenIssuer(secret string, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}
}

// Issue returns a signed access token for the given user and tenant.
func (i *TokenIssuer) Issue(userID, tenantID string) (string, error) {
	now := i.now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		TenantID: tenantID,
		Type:     accessTokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Validate parses the token, checks its signature, expiry and type, and
// returns the claims it carries.
func (i *TokenIssuer) Validate(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if parsed.Type != accessTokenType {
		return Claims{}, fmt.Errorf("%w: wrong token type %q", ErrInvalidToken, parsed.Type)
	}
	if parsed.Subject == "" || parsed.TenantID == "" {
		return Claims{}, fmt.Errorf("%w: missing subject or tenant", ErrInvalidToken)
	}

	return Claims{UserID: parsed.Subject, TenantID: parsed.TenantID}, nil
}
