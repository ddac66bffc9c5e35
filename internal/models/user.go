package models

import (
	"time"
)

// Identity is who the current access token belongs to.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
}

// Tenant is one customer organization. All data is scoped to a tenant.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a staff member of a tenant.
type User struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	FullName       *string   `json:"full_name"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// LoginRequest represents the request payload for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest represents the request payload for POST /api/auth/register.
// FullName is always sent; a nil value is encoded as an explicit null.
type RegisterRequest struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	FullName   *string `json:"full_name"`
	TenantName string  `json:"tenant_name"`
}

// TokenResponse is returned by login, register and refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	Email       string `json:"email"`
}

// Identity returns the identity carried by the response.
func (r TokenResponse) Identity() Identity {
	return Identity{
		UserID:   r.UserID,
		TenantID: r.TenantID,
		Email:    r.Email,
	}
}

// Complete reports whether every field a session needs is present.
func (r TokenResponse) Complete() bool {
	return r.AccessToken != "" && r.UserID != "" && r.TenantID != "" && r.Email != ""
}
