// Package drafts is the client-side workflow over a tenant's pending updates:
// list them, edit one at a time, send or delete, and re-read the server's list
// after every change.
package drafts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/vdavid/updateagent/internal/models"
)

const pendingUpdatesPath = "/api/pending-updates"

// HeaderSource supplies the Authorization header for each request.
// *session.Manager implements it.
type HeaderSource interface {
	AuthorizationHeader() http.Header
}

// Confirmer gates destructive actions on a user decision.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// DeletePrompt is the question asked before a draft is deleted.
const DeletePrompt = "Delete this draft?"

// EditBuffer is the one local edit in progress.
type EditBuffer struct {
	EditingID string
	Subject   string
	Body      string
}

// StatusError reports a non-2xx answer.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Detail)
}

// OperationError is passed to the error handler when an operation fails.
type OperationError struct {
	Op  string
	ID  string
	Err error
}

func (e *OperationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithConfirmer sets the gate consulted by Delete. Without one, Delete is
// always declined.
func WithConfirmer(c Confirmer) Option {
	return func(s *Store) {
		s.confirmer = c
	}
}

// WithErrorHandler registers a function called with every failure the Store
// absorbs. The Store's behavior does not change.
func WithErrorHandler(fn func(*OperationError)) Option {
	return func(s *Store) {
		s.onError = fn
	}
}

// Store holds the last loaded collection and the edit buffer.
type Store struct {
	baseURL   string
	client    *http.Client
	auth      HeaderSource
	confirmer Confirmer
	onError   func(*OperationError)

	mu     sync.Mutex
	items  []models.PendingUpdate
	buffer *EditBuffer
}

// NewStore creates a Store for the API at baseURL.
func NewStore(baseURL string, auth HeaderSource, opts ...Option) *Store {
	s := &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		auth:    auth,
		items:   []models.PendingUpdate{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.confirmer == nil {
		s.confirmer = ConfirmFunc(func(string) bool { return false })
	}
	return s
}

// Load replaces the collection with the server's. Any failure leaves it empty.
func (s *Store) Load(ctx context.Context) {
	items, err := s.fetch(ctx)
	if err != nil {
		log.Printf("DraftStore: Failed to load pending updates: %v", err)
		items = []models.PendingUpdate{}
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()

	if err != nil {
		s.report("load", "", err)
	}
}

func (s *Store) fetch(ctx context.Context) ([]models.PendingUpdate, error) {
	resp, err := s.do(ctx, http.MethodGet, pendingUpdatesPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var items []models.PendingUpdate
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode pending updates: %w", err)
	}
	if items == nil {
		items = []models.PendingUpdate{}
	}

	for _, item := range items {
		if item.Status == models.StatusUnknown {
			log.Printf("DraftStore: Ignoring pending update %s with unknown status %q", item.ID, item.RawStatus)
		}
	}
	return items, nil
}

// Items returns a copy of the last loaded collection in server order.
func (s *Store) Items() []models.PendingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PendingUpdate, len(s.items))
	copy(out, s.items)
	return out
}

// PendingView returns the actionable drafts of the collection in server order.
func (s *Store) PendingView() []models.PendingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := make([]models.PendingUpdate, 0, len(s.items))
	for _, item := range s.items {
		switch item.Status {
		case models.StatusPending:
			view = append(view, item)
		case models.StatusApproved, models.StatusSent, models.StatusRejected, models.StatusUnknown:
		}
	}
	return view
}

// StartEdit opens the buffer for item, replacing any open buffer unsaved.
// Drafts that are no longer pending cannot be edited and are ignored.
func (s *Store) StartEdit(item models.PendingUpdate) {
	if !item.Status.Actionable() {
		log.Printf("DraftStore: Not editing %s with status %q", item.ID, item.RawStatus)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = &EditBuffer{
		EditingID: item.ID,
		Subject:   item.Subject,
		Body:      item.EditableBody(),
	}
}

// UpdateBuffer changes the open buffer. It does nothing if no buffer is open.
func (s *Store) UpdateBuffer(subject, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer != nil {
		s.buffer.Subject = subject
		s.buffer.Body = body
	}
}

// EditBuffer returns a copy of the open buffer.
func (s *Store) EditBuffer() (EditBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffer == nil {
		return EditBuffer{}, false
	}
	return *s.buffer, true
}

// Discard closes the buffer without saving.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
}

// SaveEdit sends the buffer as a partial update, with the edited text as both
// bodies. The buffer is closed and the list reloaded whatever the outcome.
func (s *Store) SaveEdit(ctx context.Context) {
	s.mu.Lock()
	buffer := s.buffer
	if buffer == nil {
		s.mu.Unlock()
		return
	}
	snapshot := *buffer
	s.mu.Unlock()

	edit := models.PendingUpdateEdit{
		Subject:   &snapshot.Subject,
		BodyPlain: &snapshot.Body,
		BodyHTML:  &snapshot.Body,
	}

	s.mutate(ctx, "save", snapshot.EditingID, http.MethodPatch, itemPath(snapshot.EditingID), edit, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A newer StartEdit keeps its buffer.
		if s.buffer == buffer {
			s.buffer = nil
		}
	})
}

// Delete asks the Confirmer first. If declined, or if id is not a pending
// draft of the last loaded collection, nothing is sent and false is returned.
// Otherwise the draft is deleted and the list reloaded.
func (s *Store) Delete(ctx context.Context, id string) bool {
	if !s.isPending(id) {
		log.Printf("DraftStore: Not deleting %s, it is not pending", id)
		return false
	}
	if !s.confirmer.Confirm(DeletePrompt) {
		return false
	}

	s.mutate(ctx, "delete", id, http.MethodDelete, itemPath(id), nil, nil)
	return true
}

// Send transitions the draft to sent, then reloads the list. Ids that are not
// pending drafts of the last loaded collection are ignored.
func (s *Store) Send(ctx context.Context, id string) {
	if !s.isPending(id) {
		log.Printf("DraftStore: Not sending %s, it is not pending", id)
		return
	}
	s.mutate(ctx, "send", id, http.MethodPost, itemPath(id)+"/send", nil, nil)
}

func (s *Store) isPending(id string) bool {
	for _, item := range s.PendingView() {
		if item.ID == id {
			return true
		}
	}
	return false
}

// mutate issues one state-changing request, runs settle, and reloads.
// Failures are logged and reported, never returned.
func (s *Store) mutate(ctx context.Context, op, id, method, path string, body any, settle func()) {
	defer s.Load(ctx)
	if settle != nil {
		defer settle()
	}

	resp, err := s.do(ctx, method, path, body)
	if err == nil {
		err = checkStatus(resp)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Printf("DraftStore: Failed to %s %s: %v", op, id, err)
		s.report(op, id, err)
	}
}

func (s *Store) report(op, id string, err error) {
	if s.onError != nil {
		s.onError(&OperationError{Op: op, ID: id, Err: err})
	}
}

func (s *Store) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range s.auth.AuthorizationHeader() {
		req.Header[key] = values
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return s.client.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Detail:     models.DetailMessage(body, http.StatusText(resp.StatusCode)),
	}
}

func itemPath(id string) string {
	return pendingUpdatesPath + "/" + url.PathEscape(id)
}
