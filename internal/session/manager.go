// Package session owns the client's view of who is logged in and which
// access token to attach to API requests.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	"github.com/vdavid/updateagent/internal/models"
	"golang.org/x/net/publicsuffix"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"
	refreshPath  = "/api/auth/refresh"
	logoutPath   = "/api/auth/logout"
)

// errRenewalRejected means the server answered the refresh call but did not
// hand out a usable token.
var errRenewalRejected = errors.New("renewal rejected")

// Session is a snapshot of the authentication state.
// AccessCredential is set if and only if Identity is, except while Loading.
type Session struct {
	Identity         *models.Identity
	AccessCredential string
	Loading          bool
}

// Authenticated reports whether the session holds an identity and a credential.
func (s Session) Authenticated() bool {
	return s.Identity != nil && s.AccessCredential != ""
}

func (s Session) clone() Session {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for every call. Its cookie jar holds the
// refresh cookie, so managers sharing a client share a login.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithStore sets where the access token and identity are persisted.
func WithStore(store CredentialStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// Manager is the single writer of the session state. Everything else reads it
// through State, Subscribe or AuthorizationHeader.
type Manager struct {
	baseURL string
	client  *http.Client
	store   CredentialStore

	mu      sync.Mutex
	state   Session
	subs    map[int]chan Session
	nextSub int
	closed  bool

	startOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
}

// NewManager creates a Manager talking to the API at baseURL. The session
// starts empty and Loading until Start has finished.
func NewManager(baseURL string, opts ...Option) (*Manager, error) {
	m := &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		state:   Session{Loading: true},
		subs:    make(map[int]chan Session),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		m.client = &http.Client{Jar: jar}
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}

	return m, nil
}

// Start restores the session from the refresh cookie in the background.
// Only the first call has any effect. Ready is closed once it finishes.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.initialize(ctx)
	})
}

func (m *Manager) initialize(ctx context.Context) {
	resp, err := m.exchange(ctx)
	if err != nil && !errors.Is(err, errRenewalRejected) {
		log.Printf("SessionManager: Session restore failed: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if err != nil {
		m.clearStoreLocked()
		m.state = Session{}
	} else {
		m.saveLocked(resp)
	}
	m.publishLocked()
	m.readyOnce.Do(func() { close(m.ready) })
}

// Ready is closed once the session restore has finished or the Manager is closed.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// WaitReady blocks until Ready is closed or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close discards any restore still in flight and ends every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.readyOnce.Do(func() { close(m.ready) })
}

// Login signs in with email and password. On failure it returns
// ErrServerUnreachable or an *AuthError.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	req := models.LoginRequest{Email: email, Password: password}
	return m.authenticate(ctx, loginPath, req, "Login failed")
}

// Register creates a tenant and its first user and signs in as that user.
// A nil fullName is sent as null.
func (m *Manager) Register(ctx context.Context, email, password string, fullName *string, tenantName string) error {
	req := models.RegisterRequest{
		Email:      email,
		Password:   password,
		FullName:   fullName,
		TenantName: tenantName,
	}
	return m.authenticate(ctx, registerPath, req, "Registration failed")
}

func (m *Manager) authenticate(ctx context.Context, path string, payload any, fallback string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := m.post(ctx, path, body)
	if err != nil {
		log.Printf("SessionManager: %s failed: %v", path, err)
		return ErrServerUnreachable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("SessionManager: Failed to read %s response: %v", path, err)
		respBody = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    models.DetailMessage(respBody, fallback),
		}
	}

	var tokens models.TokenResponse
	if err := json.Unmarshal(respBody, &tokens); err != nil || !tokens.Complete() {
		log.Printf("SessionManager: Incomplete %s response", path)
		return &AuthError{StatusCode: resp.StatusCode, Message: fallback}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(&tokens)
	m.publishLocked()
	return nil
}

// Renew exchanges the refresh cookie for a new access token. A rejection logs
// the user out. A transport failure leaves the session as it was.
func (m *Manager) Renew(ctx context.Context) bool {
	resp, err := m.exchange(ctx)
	if errors.Is(err, errRenewalRejected) {
		m.Logout(ctx)
		return false
	}
	if err != nil {
		log.Printf("SessionManager: Renewal failed: %v", err)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(resp)
	m.publishLocked()
	return true
}

// exchange calls the refresh endpoint. It returns errRenewalRejected for any
// non-2xx or unusable 2xx answer and another error for transport failures.
func (m *Manager) exchange(ctx context.Context) (*models.TokenResponse, error) {
	resp, err := m.post(ctx, refreshPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", errRenewalRejected, resp.StatusCode)
	}

	var tokens models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", errRenewalRejected, err)
	}
	if !tokens.Complete() {
		return nil, fmt.Errorf("%w: incomplete response", errRenewalRejected)
	}
	return &tokens, nil
}

// Logout clears the local session, then asks the server to revoke the refresh
// cookie. Server errors are ignored.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.clearStoreLocked()
	m.state = Session{}
	m.publishLocked()
	m.mu.Unlock()

	resp, err := m.post(ctx, logoutPath, nil)
	if err != nil {
		log.Printf("SessionManager: Logout request failed: %v", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// AuthorizationHeader returns a fresh header carrying the stored access token,
// or an empty header if there is none. It never waits for Start.
func (m *Manager) AuthorizationHeader() http.Header {
	header := http.Header{}
	if creds, ok := m.store.Load(); ok && creds.AccessToken != "" {
		header.Set("Authorization", "Bearer "+creds.AccessToken)
	}
	return header
}

// State returns a snapshot of the session.
func (m *Manager) State() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe returns a channel that receives the current session and every
// later change. Slow readers only see the latest value. Call the returned
// function to unsubscribe.
func (m *Manager) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.state.clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

func (m *Manager) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return m.client.Do(req)
}

func (m *Manager) saveLocked(tokens *models.TokenResponse) {
	identity := tokens.Identity()
	if err := m.store.Save(Credentials{AccessToken: tokens.AccessToken, Identity: identity}); err != nil {
		log.Printf("SessionManager: Failed to persist credentials: %v", err)
	}
	m.state = Session{
		Identity:         &identity,
		AccessCredential: tokens.AccessToken,
	}
}

func (m *Manager) clearStoreLocked() {
	if err := m.store.Clear(); err != nil {
		log.Printf("SessionManager: Failed to clear credentials: %v", err)
	}
}

// publishLocked hands the current state to every subscriber, replacing any
// value they have not read yet.
func (m *Manager) publishLocked() {
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- m.state.clone()
	}
}
