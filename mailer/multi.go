package mailer

import (
	"context"
	"errors"
	"log/slog"

	ct "github.com/dennislee928/carbontrade"
)

// Multi tries each mailer in order and stops at the first success
type Multi []ct.Mailer

func (m Multi) each(ctx context.Context, kind string, send func(ct.Mailer) error) error {
	var errs []error
	for _, mailer := range m {
		err := send(mailer)
		if err == nil {
			return nil
		}
		slog.WarnContext(ctx, "mailer failed, trying next", "kind", kind, "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("no mailer configured")
	}
	return errors.Join(errs...)
}

func (m Multi) SendOTP(ctx context.Context, msg ct.OTPMessage) error {
	return m.each(ctx, "otp", func(x ct.Mailer) error { return x.SendOTP(ctx, msg) })
}

func (m Multi) SendVerificationEmail(ctx context.Context, to, link string) error {
	return m.each(ctx, "verification", func(x ct.Mailer) error { return x.SendVerificationEmail(ctx, to, link) })
}

func (m Multi) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	return m.each(ctx, "password_reset", func(x ct.Mailer) error { return x.SendPasswordResetEmail(ctx, to, link) })
}

// Options selects the delivery backends
type Options struct {
	MailgunDomain string
	MailgunAPIKey string
	MailgunSender string

	EmailJS EmailJS
}

// New builds the configured mailers, Mailgun first then EmailJS. With
// nothing configured it logs mail to the console.
func New(opts Options) ct.Mailer {
	var out Multi
	if mg := NewMailgun(opts.MailgunDomain, opts.MailgunAPIKey, opts.MailgunSender); mg != nil {
		out = append(out, mg)
	}
	if opts.EmailJS.Configured() {
		ej := opts.EmailJS
		out = append(out, &ej)
	}
	switch len(out) {
	case 0:
		slog.Info("no mail backend configured, using console mailer")
		return &ct.ConsoleMailer{}
	case 1:
		return out[0]
	}
	return out
}
