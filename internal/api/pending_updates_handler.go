package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/mailer"
	"github.com/vdavid/updateagent/internal/models"
)

// ChangeNotifier is told about every draft mutation. *websocket.Hub implements it.
type ChangeNotifier interface {
	NotifyPendingUpdatesChanged(tenantID, id string)
}

// PendingUpdatesHandler serves the draft list and its transitions.
type PendingUpdatesHandler struct {
	pool     *pgxpool.Pool
	mailer   mailer.Mailer
	notifier ChangeNotifier
	now      func() time.Time
}

// NewPendingUpdatesHandler creates a new PendingUpdatesHandler instance.
// notifier may be nil.
func NewPendingUpdatesHandler(pool *pgxpool.Pool, m mailer.Mailer, notifier ChangeNotifier) *PendingUpdatesHandler {
	if m == nil {
		m = mailer.Noop{}
	}
	return &PendingUpdatesHandler{
		pool:     pool,
		mailer:   m,
		notifier: notifier,
		now:      time.Now,
	}
}

// List returns the tenant's drafts newest first, optionally filtered by ?status=.
func (h *PendingUpdatesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(w, r)
	if !ok {
		return
	}

	updates, err := db.ListPendingUpdates(r.Context(), h.pool, claims.TenantID, r.URL.Query().Get("status"))
	if err != nil {
		log.Printf("PendingUpdatesHandler: Failed to list: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, updates)
}

// Get returns one draft.
func (h *PendingUpdatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(w, r)
	if !ok {
		return
	}

	update, err := db.GetPendingUpdate(r.Context(), h.pool, claims.TenantID, r.PathValue("id"))
	if errors.Is(err, db.ErrPendingUpdateNotFound) {
		writeDetail(w, http.StatusNotFound, "Update not found")
		return
	}
	if err != nil {
		log.Printf("PendingUpdatesHandler: Failed to get: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, update)
}

// Edit applies a partial edit to a pending draft.
func (h *PendingUpdatesHandler) Edit(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(w, r)
	if !ok {
		return
	}

	var edit models.PendingUpdateEdit
	if !decodeBody(w, r, &edit) {
		return
	}

	id := r.PathValue("id")
	update, err := db.EditPendingUpdate(r.Context(), h.pool, claims.TenantID, id, edit)
	if errors.Is(err, db.ErrPendingUpdateNotFound) {
		writeDetail(w, http.StatusNotFound, "Update not found or not editable")
		return
	}
	if err != nil {
		log.Printf("PendingUpdatesHandler: Failed to edit: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.notify(claims.TenantID, id)
	writeJSON(w, http.StatusOK, update)
}

// Delete rejects a pending draft so it leaves the actionable list.
func (h *PendingUpdatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	err := db.RejectPendingUpdate(r.Context(), h.pool, claims.TenantID, id)
	if errors.Is(err, db.ErrPendingUpdateNotFound) {
		writeDetail(w, http.StatusNotFound, "Update not found")
		return
	}
	if err != nil {
		log.Printf("PendingUpdatesHandler: Failed to reject: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.notify(claims.TenantID, id)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Send marks a pending draft sent, records it in the history and delivers it.
// A delivery failure leaves the draft pending.
func (h *PendingUpdatesHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")
	var deliveryErr error
	_, err := db.MarkPendingUpdateSent(ctx, h.pool, claims.TenantID, id, h.now().UTC(), func(p *models.PendingUpdate) error {
		deliveryErr = h.mailer.Deliver(ctx, p)
		if errors.Is(deliveryErr, mailer.ErrNoRecipient) {
			log.Printf("PendingUpdatesHandler: Draft %s has no recipient, marking sent without delivery", p.ID)
			deliveryErr = nil
		}
		return deliveryErr
	})
	if errors.Is(err, db.ErrPendingUpdateNotFound) {
		writeDetail(w, http.StatusNotFound, "Update not found or not pending")
		return
	}
	if deliveryErr != nil {
		log.Printf("PendingUpdatesHandler: Failed to deliver %s: %v", id, deliveryErr)
		writeDetail(w, http.StatusBadGateway, "Failed to deliver update")
		return
	}
	if err != nil {
		log.Printf("PendingUpdatesHandler: Failed to send: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.notify(claims.TenantID, id)
	writeJSON(w, http.StatusOK, struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
	}{OK: true, Message: "Update marked as sent."})
}

func (h *PendingUpdatesHandler) notify(tenantID, id string) {
	if h.notifier != nil {
		h.notifier.NotifyPendingUpdatesChanged(tenantID, id)
	}
}
