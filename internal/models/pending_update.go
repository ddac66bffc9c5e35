package models

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a pending update.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusSent     Status = "sent"
	StatusRejected Status = "rejected"
	// StatusUnknown marks a tag this build does not recognize.
	StatusUnknown Status = ""
)

// ParseStatus maps a wire tag to a Status. Unrecognized tags map to StatusUnknown.
func ParseStatus(tag string) Status {
	switch Status(tag) {
	case StatusPending, StatusApproved, StatusSent, StatusRejected:
		return Status(tag)
	default:
		return StatusUnknown
	}
}

// Actionable reports whether a draft in this state may be edited, sent or deleted.
func (s Status) Actionable() bool {
	switch s {
	case StatusPending:
		return true
	case StatusApproved, StatusSent, StatusRejected, StatusUnknown:
		return false
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusRejected
}

// PendingUpdate is a machine-drafted client update email awaiting action.
type PendingUpdate struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	ClientID          string     `json:"client_id"`
	Subject           string     `json:"subject"`
	BodyHTML          string     `json:"body_html"`
	BodyPlain         *string    `json:"body_plain"`
	ChangeSummary     *string    `json:"change_summary"`
	Status            Status     `json:"status"`
	RawStatus         string     `json:"-"`
	CreatedAt         *time.Time `json:"created_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ClientDisplayName *string    `json:"client_display_name"`
	ClientEmail       *string    `json:"client_email"`
}

// UnmarshalJSON keeps the original status tag in RawStatus and parses it into Status.
func (p *PendingUpdate) UnmarshalJSON(data []byte) error {
	type alias PendingUpdate
	aux := struct {
		*alias
		Status string `json:"status"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.RawStatus = aux.Status
	p.Status = ParseStatus(aux.Status)
	return nil
}

// MarshalJSON writes the original status tag, so tags this build does not
// recognize survive a round trip.
func (p PendingUpdate) MarshalJSON() ([]byte, error) {
	type alias PendingUpdate
	status := p.RawStatus
	if status == "" {
		status = string(p.Status)
	}
	return json.Marshal(struct {
		alias
		Status string `json:"status"`
	}{alias: alias(p), Status: status})
}

// EditableBody returns the plain body if present, else the HTML body.
func (p PendingUpdate) EditableBody() string {
	if p.BodyPlain != nil && *p.BodyPlain != "" {
		return *p.BodyPlain
	}
	return p.BodyHTML
}

// PendingUpdateEdit is the PATCH payload. Nil fields are left unchanged.
type PendingUpdateEdit struct {
	Subject   *string `json:"subject"`
	BodyPlain *string `json:"body_plain"`
	BodyHTML  *string `json:"body_html"`
}

// Client is a tenant's customer, the recipient of update emails.
type Client struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	DisplayName string    `json:"display_name"`
	Email       *string   `json:"email"`
	CompanyName *string   `json:"company_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// UpdateHistory records a sent update.
type UpdateHistory struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ClientID        string    `json:"client_id"`
	PendingUpdateID *string   `json:"pending_update_id"`
	Subject         string    `json:"subject"`
	ChangeSummary   *string   `json:"change_summary"`
	SentAt          time.Time `json:"sent_at"`
}

// ChangeEvent is pushed over the websocket feed when a tenant's drafts change.
type ChangeEvent struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ChangeEventPendingUpdates is the ChangeEvent type for draft changes.
const ChangeEventPendingUpdates = "pending_updates_changed"
