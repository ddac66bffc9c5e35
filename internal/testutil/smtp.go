package testutil

import (
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Message is one mail received by the test SMTP server.
type Message struct {
	From string
	To   []string
	Data []byte
}

// MemoryBackend keeps every accepted message in memory.
type MemoryBackend struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryBackend creates an empty in-memory SMTP backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{messages: make([]Message, 0)}
}

// NewSession implements smtp.Backend.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// Messages returns a copy of the received messages.
func (b *MemoryBackend) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Clear drops all stored messages.
func (b *MemoryBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make([]Message, 0)
}

type memorySession struct {
	backend *MemoryBackend
	from    string
	to      []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth accepts any credentials.
func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.messages = append(s.backend.messages, Message{
		From: s.from,
		To:   s.to,
		Data: data,
	})
	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer is an in-memory SMTP server listening on a local port.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *MemoryBackend
}

// StartSMTPServer starts an in-memory SMTP server on addr.
// Use "127.0.0.1:0" for a random port.
func StartSMTPServer(addr string) (*TestSMTPServer, error) {
	be := NewMemoryBackend()

	s := smtp.NewServer(be)
	s.AllowInsecureAuth = true
	s.Domain = "localhost"

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.Addr = listener.Addr().String()

	go func() {
		// Serve returns once Close is called.
		_ = s.Serve(listener)
	}()

	return &TestSMTPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
	}, nil
}

// NewTestSMTPServer starts a server on a random port and closes it when the test ends.
// The backend accepts any username and password.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	s, err := StartSMTPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start SMTP server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Close shuts down the server.
func (s *TestSMTPServer) Close() {
	_ = s.Server.Close()
}

// Messages returns all messages received by the server.
func (s *TestSMTPServer) Messages() []Message {
	return s.Backend.Messages()
}
