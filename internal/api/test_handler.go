package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/updateagent/internal/db"
	"github.com/vdavid/updateagent/internal/models"
)

// TestHandler provides test-only endpoints used by end-to-end tests.
// These endpoints are only registered in test environments.
type TestHandler struct {
	pool     *pgxpool.Pool
	notifier ChangeNotifier
}

// NewTestHandler creates a new TestHandler instance.
func NewTestHandler(pool *pgxpool.Pool, notifier ChangeNotifier) *TestHandler {
	return &TestHandler{
		pool:     pool,
		notifier: notifier,
	}
}

type addPendingUpdateRequest struct {
	ClientName    string  `json:"client_name"`
	ClientEmail   *string `json:"client_email"`
	Subject       string  `json:"subject"`
	BodyHTML      string  `json:"body_html"`
	BodyPlain     *string `json:"body_plain"`
	ChangeSummary *string `json:"change_summary"`
	Status        string  `json:"status"`
}

// AddPendingUpdate stores a draft for the caller's tenant the way the drafting
// job would, then notifies connected clients.
func (h *TestHandler) AddPendingUpdate(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(w, r)
	if !ok {
		return
	}

	var req addPendingUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var fieldErrors []models.FieldError
	if strings.TrimSpace(req.ClientName) == "" {
		fieldErrors = append(fieldErrors, fieldError("client_name", "client_name is required"))
	}
	if strings.TrimSpace(req.Subject) == "" {
		fieldErrors = append(fieldErrors, fieldError("subject", "subject is required"))
	}
	if len(fieldErrors) > 0 {
		writeValidationErrors(w, fieldErrors)
		return
	}

	ctx := r.Context()
	client := &models.Client{
		TenantID:    claims.TenantID,
		DisplayName: req.ClientName,
		Email:       req.ClientEmail,
	}
	if err := db.CreateClient(ctx, h.pool, client); err != nil {
		log.Printf("TestHandler: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	update := &models.PendingUpdate{
		TenantID:      claims.TenantID,
		ClientID:      client.ID,
		Subject:       req.Subject,
		BodyHTML:      req.BodyHTML,
		BodyPlain:     req.BodyPlain,
		ChangeSummary: req.ChangeSummary,
		RawStatus:     req.Status,
	}
	if err := db.CreatePendingUpdate(ctx, h.pool, update); err != nil {
		log.Printf("TestHandler: %v", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyPendingUpdatesChanged(claims.TenantID, update.ID)
	}
	writeJSON(w, http.StatusCreated, update)
}
