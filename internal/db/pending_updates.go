package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/models"
)

// ErrPendingUpdateNotFound is returned when a pending update does not exist
// for the tenant or is not in a state that allows the requested change.
var ErrPendingUpdateNotFound = errors.New("pending update not found")

const pendingUpdateSelect = `
	SELECT
		p.id,
		p.tenant_id,
		p.client_id,
		p.subject,
		p.body_html,
		p.body_plain,
		p.change_summary,
		p.status,
		p.created_at,
		p.sent_at,
		c.display_name,
		c.email
	FROM pending_updates p
	LEFT JOIN clients c ON c.id = p.client_id
`

func scanPendingUpdate(row pgx.Row) (*models.PendingUpdate, error) {
	var p models.PendingUpdate
	var createdAt time.Time

	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.ClientID,
		&p.Subject,
		&p.BodyHTML,
		&p.BodyPlain,
		&p.ChangeSummary,
		&p.RawStatus,
		&createdAt,
		&p.SentAt,
		&p.ClientDisplayName,
		&p.ClientEmail,
	)
	if err != nil {
		return nil, err
	}

	p.Status = models.ParseStatus(p.RawStatus)
	p.CreatedAt = &createdAt
	return &p, nil
}

// ListPendingUpdates returns the tenant's pending updates, newest first.
// If status is non-empty only rows with that status are returned.
func ListPendingUpdates(ctx context.Context, pool *pgxpool.Pool, tenantID, status string) ([]models.PendingUpdate, error) {
	query := pendingUpdateSelect + `WHERE p.tenant_id = $1 AND ($2 = '' OR p.status = $2) ORDER BY p.created_at DESC, p.id`

	rows, err := pool.Query(ctx, query, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending updates: %w", err)
	}
	defer rows.Close()

	updates := make([]models.PendingUpdate, 0)
	for rows.Next() {
		p, err := scanPendingUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending update: %w", err)
		}
		updates = append(updates, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending updates: %w", err)
	}

	return updates, nil
}

// GetPendingUpdate returns one of the tenant's pending updates.
func GetPendingUpdate(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) (*models.PendingUpdate, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrPendingUpdateNotFound
	}

	p, err := scanPendingUpdate(pool.QueryRow(ctx, pendingUpdateSelect+`WHERE p.id = $1 AND p.tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPendingUpdateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending update: %w", err)
	}
	return p, nil
}

// EditPendingUpdate applies the non-nil fields of edit to a pending draft.
// Only drafts with status pending can be edited.
func EditPendingUpdate(ctx context.Context, pool *pgxpool.Pool, tenantID, id string, edit models.PendingUpdateEdit) (*models.PendingUpdate, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrPendingUpdateNotFound
	}

	tag, err := pool.Exec(ctx, `
		UPDATE pending_updates SET
			subject = COALESCE($3, subject),
			body_html = COALESCE($4, body_html),
			body_plain = COALESCE($5, body_plain),
			updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
	`, id, tenantID, edit.Subject, edit.BodyHTML, edit.BodyPlain)
	if err != nil {
		return nil, fmt.Errorf("failed to edit pending update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrPendingUpdateNotFound
	}

	return GetPendingUpdate(ctx, pool, tenantID, id)
}

// RejectPendingUpdate removes a pending draft from the actionable set by
// marking it rejected.
func RejectPendingUpdate(ctx context.Context, pool *pgxpool.Pool, tenantID, id string) error {
	if uuid.Validate(id) != nil {
		return ErrPendingUpdateNotFound
	}

	tag, err := pool.Exec(ctx, `
		UPDATE pending_updates SET status = 'rejected', updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to reject pending update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPendingUpdateNotFound
	}
	return nil
}

// MarkPendingUpdateSent transitions a pending draft to sent and records it in
// the update history. deliver, if non-nil, runs inside the transaction after
// the row is locked; an error from it rolls the transition back. Once deliver
// has succeeded the commit no longer depends on ctx, so a caller that goes
// away mid-delivery cannot leave a delivered draft pending.
func MarkPendingUpdateSent(ctx context.Context, pool *pgxpool.Pool, tenantID, id string, sentAt time.Time, deliver func(*models.PendingUpdate) error) (*models.PendingUpdate, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrPendingUpdateNotFound
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	p, err := scanPendingUpdate(tx.QueryRow(ctx, pendingUpdateSelect+`
		WHERE p.id = $1 AND p.tenant_id = $2 AND p.status = 'pending'
		FOR UPDATE OF p
	`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPendingUpdateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending update: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pending_updates SET status = 'sent', sent_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, sentAt); err != nil {
		return nil, fmt.Errorf("failed to mark pending update sent: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO update_history (id, tenant_id, client_id, pending_update_id, subject, change_summary, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), tenantID, p.ClientID, p.ID, p.Subject, p.ChangeSummary, sentAt); err != nil {
		return nil, fmt.Errorf("failed to record update history: %w", err)
	}

	p.Status = models.StatusSent
	p.RawStatus = string(models.StatusSent)
	p.SentAt = &sentAt

	if deliver != nil {
		if err := deliver(p); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to commit sent update: %w", err)
	}

	return p, nil
}

// ListUpdateHistory returns the tenant's sent updates, newest first.
func ListUpdateHistory(ctx context.Context, pool *pgxpool.Pool, tenantID string) ([]models.UpdateHistory, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, tenant_id, client_id, pending_update_id, subject, change_summary, sent_at
		FROM update_history
		WHERE tenant_id = $1
		ORDER BY sent_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list update history: %w", err)
	}
	defer rows.Close()

	history := make([]models.UpdateHistory, 0)
	for rows.Next() {
		var h models.UpdateHistory
		if err := rows.Scan(&h.ID, &h.TenantID, &h.ClientID, &h.PendingUpdateID, &h.Subject, &h.ChangeSummary, &h.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan update history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate update history: %w", err)
	}

	return history, nil
}

// CreateClient stores a tenant's client.
func CreateClient(ctx context.Context, pool *pgxpool.Pool, client *models.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	err := pool.QueryRow(ctx, `
		INSERT INTO clients (id, tenant_id, display_name, email, company_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, client.ID, client.TenantID, client.DisplayName, client.Email, client.CompanyName).Scan(&client.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// CreatePendingUpdate stores a new draft. The drafting job is the usual caller.
// An empty status defaults to pending.
func CreatePendingUpdate(ctx context.Context, pool *pgxpool.Pool, p *models.PendingUpdate) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.RawStatus == "" {
		p.RawStatus = string(p.Status)
	}
	if p.RawStatus == "" {
		p.RawStatus = string(models.StatusPending)
	}

	var createdAt time.Time
	if p.CreatedAt != nil {
		createdAt = *p.CreatedAt
	} else {
		createdAt = time.Now()
	}

	err := pool.QueryRow(ctx, `
		INSERT INTO pending_updates (id, tenant_id, client_id, subject, body_html, body_plain, change_summary, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, p.ID, p.TenantID, p.ClientID, p.Subject, p.BodyHTML, p.BodyPlain, p.ChangeSummary, p.RawStatus, createdAt).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to create pending update: %w", err)
	}

	p.Status = models.ParseStatus(p.RawStatus)
	p.CreatedAt = &createdAt
	return nil
}
