// Package mailer delivers sent drafts to the client's email address.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/updateagent/internal/config"
	"github.com/vdavid/updateagent/internal/models"
)

// ErrNoRecipient is returned when the draft's client has no email address.
var ErrNoRecipient = errors.New("client has no email address")

// Mailer delivers a draft that is being sent.
type Mailer interface {
	Deliver(ctx context.Context, p *models.PendingUpdate) error
}

// New returns an SMTP mailer when SMTP is configured, else a no-op.
func New(cfg *config.Config) Mailer {
	if !cfg.MailEnabled() {
		log.Println("Mailer: SMTP not configured, sent drafts will not be delivered")
		return Noop{}
	}
	return &SMTPMailer{
		Address:  cfg.SMTPAddress,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}
}

// Noop discards every draft.
type Noop struct{}

// Deliver implements Mailer.
func (Noop) Deliver(context.Context, *models.PendingUpdate) error {
	return nil
}

// DefaultTimeout bounds one whole SMTP exchange when SMTPMailer.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// SMTPMailer sends drafts through one SMTP relay.
type SMTPMailer struct {
	Address  string
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Deliver builds the MIME message and hands it to the relay.
func (m *SMTPMailer) Deliver(ctx context.Context, p *models.PendingUpdate) error {
	if p.ClientEmail == nil || *p.ClientEmail == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := BuildMessage(m.From, p, time.Now())
	if err != nil {
		return err
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// A cancelled ctx aborts any exchange in flight.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	c := smtp.NewClient(conn)
	defer func() {
		_ = c.Close()
	}()

	if m.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.Username, m.Password)); err != nil {
			return fmt.Errorf("failed to authenticate with SMTP server: %w", err)
		}
	}

	if err := c.SendMail(m.From, []string{*p.ClientEmail}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	if err := c.Quit(); err != nil {
		log.Printf("Mailer: QUIT failed: %v", err)
	}
	return nil
}

// BuildMessage renders the draft as a multipart text and HTML message.
func BuildMessage(from string, p *models.PendingUpdate, date time.Time) ([]byte, error) {
	if p.ClientEmail == nil || *p.ClientEmail == "" {
		return nil, ErrNoRecipient
	}

	toName := ""
	if p.ClientDisplayName != nil {
		toName = *p.ClientDisplayName
	}

	builder := enmime.Builder().
		From("", from).
		To(toName, *p.ClientEmail).
		Subject(p.Subject).
		Date(date).
		HTML([]byte(p.BodyHTML))
	if p.BodyPlain != nil && *p.BodyPlain != "" {
		builder = builder.Text([]byte(*p.BodyPlain))
	}

	part, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build email: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode email: %w", err)
	}
	return buf.Bytes(), nil
}
