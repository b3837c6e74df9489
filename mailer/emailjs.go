package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	ct "github.com/dennislee928/carbontrade"
)

const DefaultEmailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

var (
	ErrEmptyRecipient = errors.New("recipient email address must not be empty")

	// ErrTemplateRecipient means the EmailJS template has no "To" mapping
	ErrTemplateRecipient = errors.New("EmailJS template configuration error: recipient address is empty, check the template's To Email field")
)

// EmailJS sends mail through an EmailJS template. The template receives
// to_email, to_name, user_name, otp_code, reply_to, from_name and message.
type EmailJS struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	// PrivateKey is required when the account enforces strict mode for API calls
	PrivateKey string
	FromName   string
	Endpoint   string
	HTTPClient *http.Client
}

func (e *EmailJS) Configured() bool {
	return e.ServiceID != "" && e.TemplateID != "" && e.PublicKey != ""
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

func (e *EmailJS) send(ctx context.Context, to, name, code, message string) error {
	if strings.TrimSpace(to) == "" {
		return ErrEmptyRecipient
	}
	if name == "" {
		name = to
	}
	fromName := e.FromName
	if fromName == "" {
		fromName = "Carbon Trading Platform"
	}
	body, err := json.Marshal(emailJSRequest{
		ServiceID:   e.ServiceID,
		TemplateID:  e.TemplateID,
		UserID:      e.PublicKey,
		AccessToken: e.PrivateKey,
		TemplateParams: map[string]string{
			"to_email":  to,
			"to_name":   name,
			"user_name": name,
			"otp_code":  code,
			"reply_to":  to,
			"from_name": fromName,
			"message":   message,
		},
	})
	if err != nil {
		return err
	}

	endpoint := e.Endpoint
	if endpoint == "" {
		endpoint = DefaultEmailJSEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("emailjs: sending mail failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnprocessableEntity {
		if strings.Contains(string(text), "recipients address is empty") {
			return ErrTemplateRecipient
		}
		return fmt.Errorf("emailjs: request error (422): %s", text)
	}
	return fmt.Errorf("emailjs: sending mail failed (%d): %s", resp.StatusCode, text)
}

func (e *EmailJS) SendOTP(ctx context.Context, msg ct.OTPMessage) error {
	return e.send(ctx, msg.To, msg.Name, msg.Code, msg.Body())
}

func (e *EmailJS) SendVerificationEmail(ctx context.Context, to, link string) error {
	return e.send(ctx, to, "", "", "Please verify your email by clicking: "+link)
}

func (e *EmailJS) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	return e.send(ctx, to, "", "", "Reset your password by clicking: "+link)
}
