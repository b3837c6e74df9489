// Package mailer delivers carbontrade's transactional mail: one-time codes,
// verification links and password resets.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	ct "github.com/dennislee928/carbontrade"
)

const sendTimeout = 10 * time.Second

// Mailgun sends plain-text mail through the Mailgun HTTP API
type Mailgun struct {
	mg     mailgun.Mailgun
	sender string
}

// NewMailgun returns nil when domain or apiKey is empty
func NewMailgun(domain, apiKey, sender string) *Mailgun {
	if domain == "" || apiKey == "" {
		return nil
	}
	return &Mailgun{mg: mailgun.NewMailgun(domain, apiKey), sender: sender}
}

// SetAPIBase points the client at another Mailgun-compatible endpoint,
// e.g. the EU region or a test server.
func (m *Mailgun) SetAPIBase(base string) {
	m.mg.SetAPIBase(base)
}

func (m *Mailgun) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("mailgun: recipient address is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	message := m.mg.NewMessage(m.sender, subject, body, to)
	if _, _, err := m.mg.Send(ctx, message); err != nil {
		return fmt.Errorf("mailgun: %w", err)
	}
	return nil
}

func (m *Mailgun) SendOTP(ctx context.Context, msg ct.OTPMessage) error {
	return m.send(ctx, msg.To, msg.Subject(), msg.Body())
}

func (m *Mailgun) SendVerificationEmail(ctx context.Context, to, link string) error {
	return m.send(ctx, to, "Verify your email address", "Please verify your email by clicking: "+link)
}

func (m *Mailgun) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	return m.send(ctx, to, "Reset your password",
		"Reset your password by clicking: "+link+"\nIf you did not request this, you can ignore this email.")
}
