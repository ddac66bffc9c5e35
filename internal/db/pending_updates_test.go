package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/updateagent/internal/models"
	"github.com/vdavid/updateagent/internal/testutil"
)

func strPtr(s string) *string { return &s }

// seedDrafts creates a tenant, a client and three drafts created one minute apart.
// Returns the tenant id and the drafts oldest first.
func seedDrafts(t *testing.T, pool *pgxpool.Pool, email string) (string, []*models.PendingUpdate) {
	t.Helper()
	ctx := context.Background()

	tenant, _, err := RegisterTenantUser(ctx, pool, NewRegistration{
		TenantName:     "Drafts " + email,
		Email:          email,
		HashedPassword: "hash",
	})
	if err != nil {
		t.Fatalf("RegisterTenantUser failed: %v", err)
	}

	client := &models.Client{TenantID: tenant.ID, DisplayName: "Globex", Email: strPtr("billing@globex.test")}
	if err := CreateClient(ctx, pool, client); err != nil {
		t.Fatalf("CreateClient failed: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	var drafts []*models.PendingUpdate
	for i, subject := range []string{"First", "Second", "Third"} {
		created := base.Add(time.Duration(i) * time.Minute)
		p := &models.PendingUpdate{
			TenantID:      tenant.ID,
			ClientID:      client.ID,
			Subject:       subject,
			BodyHTML:      "<p>" + subject + "</p>",
			BodyPlain:     strPtr(subject),
			ChangeSummary: strPtr("invoice paid"),
			CreatedAt:     &created,
		}
		if err := CreatePendingUpdate(ctx, pool, p); err != nil {
			t.Fatalf("CreatePendingUpdate failed: %v", err)
		}
		drafts = append(drafts, p)
	}

	return tenant.ID, drafts
}

func TestListPendingUpdates(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	tenantID, drafts := seedDrafts(t, pool, "list@example.com")
	otherTenantID, _ := seedDrafts(t, pool, "other@example.com")

	t.Run("returns newest first with client details", func(t *testing.T) {
		list, err := ListPendingUpdates(ctx, pool, tenantID, "")
		assert.NoError(t, err)
		if assert.Len(t, list, 3) {
			assert.Equal(t, drafts[2].ID, list[0].ID)
			assert.Equal(t, drafts[0].ID, list[2].ID)
			assert.Equal(t, models.StatusPending, list[0].Status)
			if assert.NotNil(t, list[0].ClientDisplayName) {
				assert.Equal(t, "Globex", *list[0].ClientDisplayName)
			}
			if assert.NotNil(t, list[0].ClientEmail) {
				assert.Equal(t, "billing@globex.test", *list[0].ClientEmail)
			}
		}
	})

	t.Run("filters by status", func(t *testing.T) {
		assert.NoError(t, RejectPendingUpdate(ctx, pool, tenantID, drafts[1].ID))

		pending, err := ListPendingUpdates(ctx, pool, tenantID, "pending")
		assert.NoError(t, err)
		assert.Len(t, pending, 2)

		rejected, err := ListPendingUpdates(ctx, pool, tenantID, "rejected")
		assert.NoError(t, err)
		if assert.Len(t, rejected, 1) {
			assert.Equal(t, drafts[1].ID, rejected[0].ID)
		}
	})

	t.Run("is scoped to the tenant", func(t *testing.T) {
		_, err := GetPendingUpdate(ctx, pool, otherTenantID, drafts[0].ID)
		assert.True(t, errors.Is(err, ErrPendingUpdateNotFound))
	})

	t.Run("empty tenant yields empty slice", func(t *testing.T) {
		list, err := ListPendingUpdates(ctx, pool, "00000000-0000-0000-0000-000000000000", "")
		assert.NoError(t, err)
		assert.NotNil(t, list)
		assert.Len(t, list, 0)
	})
}

func TestEditPendingUpdate(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	tenantID, drafts := seedDrafts(t, pool, "edit@example.com")

	t.Run("applies only provided fields", func(t *testing.T) {
		updated, err := EditPendingUpdate(ctx, pool, tenantID, drafts[0].ID, models.PendingUpdateEdit{
			Subject: strPtr("New subject"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "New subject", updated.Subject)
		assert.Equal(t, "<p>First</p>", updated.BodyHTML)
		assert.Equal(t, models.StatusPending, updated.Status)
	})

	t.Run("sets both bodies", func(t *testing.T) {
		updated, err := EditPendingUpdate(ctx, pool, tenantID, drafts[0].ID, models.PendingUpdateEdit{
			BodyPlain: strPtr("edited"),
			BodyHTML:  strPtr("edited"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "edited", updated.BodyHTML)
		if assert.NotNil(t, updated.BodyPlain) {
			assert.Equal(t, "edited", *updated.BodyPlain)
		}
	})

	t.Run("refuses non-pending drafts", func(t *testing.T) {
		assert.NoError(t, RejectPendingUpdate(ctx, pool, tenantID, drafts[1].ID))

		_, err := EditPendingUpdate(ctx, pool, tenantID, drafts[1].ID, models.PendingUpdateEdit{Subject: strPtr("x")})
		assert.True(t, errors.Is(err, ErrPendingUpdateNotFound))
	})

	t.Run("unknown and malformed ids are not found", func(t *testing.T) {
		_, err := EditPendingUpdate(ctx, pool, tenantID, "00000000-0000-0000-0000-000000000000", models.PendingUpdateEdit{})
		assert.True(t, errors.Is(err, ErrPendingUpdateNotFound))

		_, err = EditPendingUpdate(ctx, pool, tenantID, "42", models.PendingUpdateEdit{})
		assert.True(t, errors.Is(err, ErrPendingUpdateNotFound))
	})
}

func TestRejectPendingUpdate(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	tenantID, drafts := seedDrafts(t, pool, "reject@example.com")

	assert.NoError(t, RejectPendingUpdate(ctx, pool, tenantID, drafts[0].ID))

	stored, err := GetPendingUpdate(ctx, pool, tenantID, drafts[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRejected, stored.Status)

	err = RejectPendingUpdate(ctx, pool, tenantID, drafts[0].ID)
	assert.True(t, errors.Is(err, ErrPendingUpdateNotFound), "rejected is terminal")
}

func TestMarkPendingUpdateSent(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	tenantID, drafts := seedDrafts(t, pool, "send@example.com")
	sentAt := time.Now().UTC().Truncate(time.Second)

	t.Run("marks sent and records history", func(t *testing.T) {
		var delivered *models.PendingUpdate
		sent, err := MarkPendingUpdateSent(ctx, pool, tenantID, drafts[0].ID, sentAt, func(p *models.PendingUpdate) error {
			delivered = p
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusSent, sent.Status)
		if assert.NotNil(t, delivered) {
			assert.Equal(t, drafts[0].ID, delivered.ID)
			if assert.NotNil(t, delivered.ClientEmail) {
				assert.Equal(t, "billing@globex.test", *delivered.ClientEmail)
			}
		}

		stored, err := GetPendingUpdate(ctx, pool, tenantID, drafts[0].ID)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusSent, stored.Status)
		if assert.NotNil(t, stored.SentAt) {
			assert.True(t, sentAt.Equal(*stored.SentAt))
		}

		history, err := ListUpdateHistory(ctx, pool, tenantID)
		assert.NoError(t, err)
		if assert.Len(t, history, 1) {
			assert.Equal(t, "First", history[0].Subject)
			if assert.NotNil(t, history[0].PendingUpdateID) {
				assert.Equal(t, drafts[0].ID, *history[0].PendingUpdateID)
			}
		}
	})

	t.Run("sent is terminal", func(t *testing.T) {
		_, err := MarkPendingUpdateSent(ctx, pool, tenantID, drafts[0].ID, sentAt, nil)
		assert.True(t, errors.Is(err, ErrPendingUpdateNotFound))
	})

	t.Run("delivery failure rolls back", func(t *testing.T) {
		deliveryErr := errors.New("smtp down")
		_, err := MarkPendingUpdateSent(ctx, pool, tenantID, drafts[1].ID, sentAt, func(*models.PendingUpdate) error {
			return deliveryErr
		})
		assert.True(t, errors.Is(err, deliveryErr))

		stored, err := GetPendingUpdate(ctx, pool, tenantID, drafts[1].ID)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusPending, stored.Status)

		history, err := ListUpdateHistory(ctx, pool, tenantID)
		assert.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("caller cancelling after delivery still commits", func(t *testing.T) {
		reqCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		sent, err := MarkPendingUpdateSent(reqCtx, pool, tenantID, drafts[2].ID, sentAt, func(*models.PendingUpdate) error {
			cancel()
			return nil
		})
		assert.NoError(t, err)
		if assert.NotNil(t, sent) {
			assert.Equal(t, models.StatusSent, sent.Status)
		}

		stored, err := GetPendingUpdate(ctx, pool, tenantID, drafts[2].ID)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusSent, stored.Status)

		history, err := ListUpdateHistory(ctx, pool, tenantID)
		assert.NoError(t, err)
		assert.Len(t, history, 2)
	})
}
