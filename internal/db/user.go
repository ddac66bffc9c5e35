package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/models"
)

var (
	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")
	// ErrTenantNotFound is returned when a tenant cannot be found.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrEmailTaken is returned when registering an email that already has a user.
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a tenant name into a URL-safe slug of at most 64 characters.
func Slugify(name string) string {
	slug := strings.Trim(slugInvalidChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 64 {
		slug = strings.TrimRight(slug[:64], "-")
	}
	if slug == "" {
		return "tenant"
	}
	return slug
}

// NewRegistration describes the tenant and first user created by a sign-up.
type NewRegistration struct {
	TenantName     string
	Email          string
	HashedPassword string
	FullName       *string
}

// RegisterTenantUser creates a tenant with a unique slug and its first user
// in one transaction. Returns ErrEmailTaken if the email is already in use.
func RegisterTenantUser(ctx context.Context, pool *pgxpool.Pool, reg NewRegistration) (*models.Tenant, *models.User, error) {
	tenant := &models.Tenant{ID: uuid.NewString(), Name: reg.TenantName, IsActive: true}
	user := &models.User{
		ID:             uuid.NewString(),
		TenantID:       tenant.ID,
		Email:          reg.Email,
		HashedPassword: reg.HashedPassword,
		FullName:       reg.FullName,
		IsActive:       true,
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, reg.Email).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check email: %w", err)
		}
		if exists {
			return ErrEmailTaken
		}

		slug, err := uniqueSlug(ctx, tx, Slugify(reg.TenantName))
		if err != nil {
			return err
		}
		tenant.Slug = slug

		if err := tx.QueryRow(ctx, `
			INSERT INTO tenants (id, name, slug)
			VALUES ($1, $2, $3)
			RETURNING created_at
		`, tenant.ID, tenant.Name, tenant.Slug).Scan(&tenant.CreatedAt); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO users (id, tenant_id, email, hashed_password, full_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, user.ID, user.TenantID, user.Email, user.HashedPassword, user.FullName).Scan(&user.CreatedAt); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		return nil
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "users_email_key" {
		return nil, nil, ErrEmailTaken
	}
	if err != nil {
		return nil, nil, err
	}

	return tenant, user, nil
}

func uniqueSlug(ctx context.Context, tx pgx.Tx, base string) (string, error) {
	slug := base
	for n := 1; ; n++ {
		var taken bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tenants WHERE slug = $1)`, slug).Scan(&taken); err != nil {
			return "", fmt.Errorf("failed to check tenant slug: %w", err)
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

// GetUserByEmail returns the user with the given email.
func GetUserByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*models.User, error) {
	return getUser(ctx, pool, `WHERE email = $1`, email)
}

// GetUserByID returns the user with the given id.
func GetUserByID(ctx context.Context, pool *pgxpool.Pool, userID string) (*models.User, error) {
	if uuid.Validate(userID) != nil {
		return nil, ErrUserNotFound
	}
	return getUser(ctx, pool, `WHERE id = $1`, userID)
}

func getUser(ctx context.Context, pool *pgxpool.Pool, where string, arg string) (*models.User, error) {
	var user models.User
	var hashed *string

	err := pool.QueryRow(ctx, `
		SELECT id, tenant_id, email, hashed_password, full_name, is_active, created_at
		FROM users
		`+where, arg).Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&hashed,
		&user.FullName,
		&user.IsActive,
		&user.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if hashed != nil {
		user.HashedPassword = *hashed
	}
	return &user, nil
}

// GetTenant returns the tenant with the given id.
func GetTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (*models.Tenant, error) {
	var tenant models.Tenant

	err := pool.QueryRow(ctx, `
		SELECT id, name, slug, is_active, created_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.IsActive, &tenant.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// SetTenantActive enables or disables a tenant.
func SetTenantActive(ctx context.Context, pool *pgxpool.Pool, tenantID string, active bool) error {
	tag, err := pool.Exec(ctx, `
		UPDATE tenants SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, tenantID, active)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}
