package mailer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/models"
	"github.com/vdavid/updateagent/internal/testutil"
)

func strPtr(s string) *string { return &s }

func testDraft() *models.PendingUpdate {
	return &models.PendingUpdate{
		ID:                "d1",
		Subject:           "Your March update",
		BodyHTML:          "<p>Invoice paid</p>",
		BodyPlain:         strPtr("Invoice paid"),
		ClientDisplayName: strPtr("Globex"),
		ClientEmail:       strPtr("billing@globex.test"),
	}
}

func TestBuildMessage(t *testing.T) {
	t.Run("renders text and HTML parts", func(t *testing.T) {
		raw, err := BuildMessage("updates@acme.test", testDraft(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		assert.NoError(t, err)

		env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
		assert.NoError(t, err)
		assert.Equal(t, "Your March update", env.GetHeader("Subject"))
		assert.Contains(t, env.GetHeader("To"), "billing@globex.test")
		assert.Contains(t, env.GetHeader("From"), "updates@acme.test")
		assert.Contains(t, env.Text, "Invoice paid")
		assert.Contains(t, env.HTML, "<p>Invoice paid</p>")
	})

	t.Run("requires a recipient", func(t *testing.T) {
		draft := testDraft()
		draft.ClientEmail = nil

		_, err := BuildMessage("updates@acme.test", draft, time.Now())
		assert.True(t, errors.Is(err, ErrNoRecipient))
	})
}

func TestSMTPMailerDeliver(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)

	m := New(&config.Config{
		SMTPAddress:  server.Address,
		SMTPUsername: "user",
		SMTPPassword: "pass",
		MailFrom:     "updates@acme.test",
	})

	err := m.Deliver(context.Background(), testDraft())
	assert.NoError(t, err)

	messages := server.Messages()
	if assert.Len(t, messages, 1) {
		assert.Equal(t, "updates@acme.test", messages[0].From)
		assert.Equal(t, []string{"billing@globex.test"}, messages[0].To)

		env, err := enmime.ReadEnvelope(bytes.NewReader(messages[0].Data))
		assert.NoError(t, err)
		assert.Equal(t, "Your March update", env.GetHeader("Subject"))
	}
}

func TestNewWithoutSMTP(t *testing.T) {
	m := New(&config.Config{})
	_, ok := m.(Noop)
	assert.True(t, ok)
	assert.NoError(t, m.Deliver(context.Background(), testDraft()))
}

// silentRelay accepts connections and never greets.
func silentRelay(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		_ = listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return listener.Addr().String()
}

func TestSMTPMailerHangingRelay(t *testing.T) {
	draft := testDraft()

	t.Run("gives up after the timeout", func(t *testing.T) {
		m := &SMTPMailer{Address: silentRelay(t), From: "updates@acme.test", Timeout: 200 * time.Millisecond}

		start := time.Now()
		err := m.Deliver(context.Background(), draft)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("gives up when the context is cancelled", func(t *testing.T) {
		m := &SMTPMailer{Address: silentRelay(t), From: "updates@acme.test", Timeout: time.Minute}

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		err := m.Deliver(ctx, draft)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}
