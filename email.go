package carbontrade

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OTPMessage is what a Mailer needs to deliver a one-time code
type OTPMessage struct {
	To   string
	Name string
	Code string
	TTL  time.Duration
}

// Subject line and body used for OTP mail
func (m OTPMessage) Subject() string { return "Your OTP Code" }

func (m OTPMessage) Body() string {
	minutes := int(m.TTL.Minutes())
	if minutes <= 0 {
		minutes = int(OTPExpiry.Minutes())
	}
	return fmt.Sprintf("Your OTP code is: %s\nThis code will expire in %d minutes.", m.Code, minutes)
}

// Mailer delivers transactional email. Implementations live in the mailer
// package; ConsoleMailer is the development fallback.
type Mailer interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
	SendVerificationEmail(ctx context.Context, to, verificationLink string) error
	SendPasswordResetEmail(ctx context.Context, to, resetLink string) error
}

// ConsoleMailer logs messages instead of sending them
type ConsoleMailer struct {
	Logger *slog.Logger
}

func (c *ConsoleMailer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleMailer) SendOTP(ctx context.Context, msg OTPMessage) error {
	c.logger().InfoContext(ctx, "email (mock mode)", "to", msg.To, "subject", msg.Subject(), "body", msg.Body())
	return nil
}

func (c *ConsoleMailer) SendVerificationEmail(ctx context.Context, to, verificationLink string) error {
	c.logger().InfoContext(ctx, "email (mock mode)", "to", to,
		"subject", "Verify your email address",
		"body", "Please verify your email by clicking: "+verificationLink)
	return nil
}

func (c *ConsoleMailer) SendPasswordResetEmail(ctx context.Context, to, resetLink string) error {
	c.logger().InfoContext(ctx, "email (mock mode)", "to", to,
		"subject", "Reset your password",
		"body", "Reset your password by clicking: "+resetLink)
	return nil
}
