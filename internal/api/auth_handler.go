package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/auth"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/models"
)

// errRefreshRefused means the refresh response has already been written.
var errRefreshRefused = errors.New("refresh refused")

// AuthHandler serves login, registration, silent renewal and logout.
type AuthHandler struct {
	pool   *pgxpool.Pool
	issuer *auth.TokenIssuer
	cookie auth.RefreshCookieConfig
	now    func() time.Time
}

// NewAuthHandler creates a new AuthHandler instance.
func NewAuthHandler(pool *pgxpool.Pool, issuer *auth.TokenIssuer, cookie auth.RefreshCookieConfig) *AuthHandler {
	return &AuthHandler{
		pool:   pool,
		issuer: issuer,
		cookie: cookie,
		now:    time.Now,
	}
}

// Login checks the email and password and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	var fieldErrors []models.FieldError
	fieldErrors = append(fieldErrors, validateEmail(req.Email)...)
	if req.Password == "" {
		fieldErrors = append(fieldErrors, fieldError("password", "password is required"))
	}
	if len(fieldErrors) > 0 {
		writeValidationErrors(w, fieldErrors)
		return
	}

	user, err := db.GetUserByEmail(ctx, h.pool, req.Email)
	if errors.Is(err, db.ErrUserNotFound) {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		log.Printf("AuthHandler: Failed to get user: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := auth.VerifyPassword(user.HashedPassword, req.Password); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if ok := h.requireActiveTenant(ctx, w, user.TenantID, false); !ok {
		return
	}

	h.startSession(ctx, w, user)
}

// Register creates a tenant and its first user, then starts a session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.TenantName = strings.TrimSpace(req.TenantName)

	var fieldErrors []models.FieldError
	fieldErrors = append(fieldErrors, validateEmail(req.Email)...)
	if req.Password == "" {
		fieldErrors = append(fieldErrors, fieldError("password", "password is required"))
	}
	if req.TenantName == "" {
		fieldErrors = append(fieldErrors, fieldError("tenant_name", "tenant_name is required"))
	}
	if len(fieldErrors) > 0 {
		writeValidationErrors(w, fieldErrors)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("AuthHandler: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	_, user, err := db.RegisterTenantUser(ctx, h.pool, db.NewRegistration{
		TenantName:     req.TenantName,
		Email:          req.Email,
		HashedPassword: hashed,
		FullName:       req.FullName,
	})
	if errors.Is(err, db.ErrEmailTaken) {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	if err != nil {
		log.Printf("AuthHandler: Failed to register: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.startSession(ctx, w, user)
}

// Refresh trades the refresh cookie for a new access token and rotates the cookie.
// Every failure clears the cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := auth.RefreshTokenFromRequest(r, h.cookie)
	if token == "" {
		h.rejectRefresh(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}

	newToken, err := auth.NewRefreshToken()
	if err != nil {
		log.Printf("AuthHandler: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// The user and tenant checks and token issuance run inside the rotation so
	// that a failure rolls it back and the presented cookie stays usable.
	var user *models.User
	var accessToken string
	now := h.now()
	_, err = db.RotateRefreshToken(ctx, h.pool, auth.HashRefreshToken(token), auth.HashRefreshToken(newToken), now, now.Add(h.cookie.MaxAge), func(userID string) error {
		u, err := db.GetUserByID(ctx, h.pool, userID)
		if err != nil {
			return err
		}
		if ok := h.requireActiveTenant(ctx, w, u.TenantID, true); !ok {
			return errRefreshRefused
		}
		accessToken, err = h.issuer.Issue(u.ID, u.TenantID)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	switch {
	case errors.Is(err, db.ErrRefreshTokenInvalid):
		h.rejectRefresh(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	case errors.Is(err, db.ErrUserNotFound):
		h.rejectRefresh(w, http.StatusUnauthorized, "User not found")
		return
	case errors.Is(err, errRefreshRefused):
		return
	case err != nil:
		log.Printf("AuthHandler: Failed to rotate refresh token: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	auth.SetRefreshCookie(w, h.cookie, newToken)
	writeJSON(w, http.StatusOK, tokenResponse(accessToken, user))
}

// Logout revokes the refresh token, if any, and clears the cookie. It never fails.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.RefreshTokenFromRequest(r, h.cookie); token != "" {
		if err := db.DeleteRefreshToken(r.Context(), h.pool, auth.HashRefreshToken(token)); err != nil {
			log.Printf("AuthHandler: Failed to revoke refresh token: %v", err)
		}
	}

	auth.ClearRefreshCookie(w, h.cookie)
	writeDetail(w, http.StatusOK, "Logged out")
}

// startSession issues both tokens for user and writes the token response.
func (h *AuthHandler) startSession(ctx context.Context, w http.ResponseWriter, user *models.User) {
	accessToken, err := h.issuer.Issue(user.ID, user.TenantID)
	if err != nil {
		log.Printf("AuthHandler: Failed to issue access token: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	refreshToken, err := auth.NewRefreshToken()
	if err != nil {
		log.Printf("AuthHandler: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	expiresAt := h.now().Add(h.cookie.MaxAge)
	if err := db.StoreRefreshToken(ctx, h.pool, user.ID, auth.HashRefreshToken(refreshToken), expiresAt); err != nil {
		log.Printf("AuthHandler: Failed to store refresh token: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	auth.SetRefreshCookie(w, h.cookie, refreshToken)
	writeJSON(w, http.StatusOK, tokenResponse(accessToken, user))
}

// requireActiveTenant writes a 403 when the user's tenant is missing or inactive.
func (h *AuthHandler) requireActiveTenant(ctx context.Context, w http.ResponseWriter, tenantID string, clearCookie bool) bool {
	tenant, err := db.GetTenant(ctx, h.pool, tenantID)
	if err != nil && !errors.Is(err, db.ErrTenantNotFound) {
		log.Printf("AuthHandler: Failed to get tenant: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return false
	}

	if tenant == nil || !tenant.IsActive {
		if clearCookie {
			h.rejectRefresh(w, http.StatusForbidden, "Tenant inactive")
		} else {
			writeDetail(w, http.StatusForbidden, "Tenant inactive")
		}
		return false
	}
	return true
}

func (h *AuthHandler) rejectRefresh(w http.ResponseWriter, status int, detail string) {
	auth.ClearRefreshCookie(w, h.cookie)
	writeDetail(w, status, detail)
}

func tokenResponse(accessToken string, user *models.User) models.TokenResponse {
	return models.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Email:       user.Email,
	}
}

func validateEmail(email string) []models.FieldError {
	if email == "" {
		return []models.FieldError{fieldError("email", "email is required")}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return []models.FieldError{fieldError("email", "value is not a valid email address")}
	}
	return nil
}
