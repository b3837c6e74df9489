package carbontrade

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// OTP purposes
const (
	OTPPurposeSignup = "signup"
	OTPPurposeLogin  = "login"
)

const (
	OTPExpiry      = 10 * time.Minute
	OTPMaxAttempts = 5
	OTPLength      = 6
)

var (
	ErrOTPNotFound        = errors.New("otp not found")
	ErrOTPExpired         = errors.New("otp expired")
	ErrOTPInvalid         = errors.New("invalid otp")
	ErrOTPTooManyAttempts = errors.New("too many otp attempts")
)

// OTPCode is an issued one-time code. Only the hash of the code is stored.
type OTPCode struct {
	ID        string
	Email     string
	Purpose   string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (o *OTPCode) IsExpired() bool { return time.Now().After(o.ExpiresAt) }

// OTPStore persists one outstanding code per email and purpose
type OTPStore interface {
	// SaveOTP inserts or replaces the code for (email, purpose)
	SaveOTP(otp *OTPCode) error
	GetOTP(email, purpose string) (*OTPCode, error)
	IncrementOTPAttempts(id string) error
	MarkOTPUsed(id string) error
	DeleteOTP(email, purpose string) error
}

// GenerateOTP returns a uniformly random code in 100000..999999
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func hashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// OTPManager issues and checks one-time codes
type OTPManager struct {
	Store       OTPStore
	Mailer      Mailer
	TTL         time.Duration
	MaxAttempts int

	// Generate overrides code generation (tests)
	Generate func() (string, error)
}

func (m *OTPManager) EnsureDefaults() {
	if m.TTL == 0 {
		m.TTL = OTPExpiry
	}
	if m.MaxAttempts == 0 {
		m.MaxAttempts = OTPMaxAttempts
	}
	if m.Generate == nil {
		m.Generate = GenerateOTP
	}
}

// Issue creates a fresh code for the email, replacing any outstanding one,
// and mails it.
func (m *OTPManager) Issue(ctx context.Context, email, name, purpose string) error {
	m.EnsureDefaults()
	email = NormalizeEmail(email)

	code, err := m.Generate()
	if err != nil {
		return err
	}
	now := time.Now()
	otp := &OTPCode{
		Email:     email,
		Purpose:   purpose,
		CodeHash:  hashOTP(code),
		ExpiresAt: now.Add(m.TTL),
		CreatedAt: now,
	}
	if err := m.Store.SaveOTP(otp); err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}

	if m.Mailer == nil {
		return nil
	}
	if name == "" {
		name = email
	}
	if err := m.Mailer.SendOTP(ctx, OTPMessage{To: email, Name: name, Code: code, TTL: m.TTL}); err != nil {
		return fmt.Errorf("failed to send otp: %w", err)
	}
	return nil
}

// Verify checks code against the outstanding OTP. A matching code is consumed.
func (m *OTPManager) Verify(email, purpose, code string) error {
	m.EnsureDefaults()
	email = NormalizeEmail(email)

	otp, err := m.Store.GetOTP(email, purpose)
	if err != nil {
		return ErrOTPNotFound
	}
	if otp.UsedAt != nil {
		return ErrOTPNotFound
	}
	if otp.IsExpired() {
		return ErrOTPExpired
	}
	if otp.Attempts >= m.MaxAttempts {
		return ErrOTPTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(otp.CodeHash), []byte(hashOTP(code))) != 1 {
		if err := m.Store.IncrementOTPAttempts(otp.ID); err != nil {
			return fmt.Errorf("failed to record otp attempt: %w", err)
		}
		return ErrOTPInvalid
	}

	return m.Store.MarkOTPUsed(otp.ID)
}

// otpAuthError converts OTP sentinel errors into user-facing errors
func otpAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrOTPExpired):
		return NewAuthError(ErrCodeOTPExpired, "OTP has expired", "otp")
	case errors.Is(err, ErrOTPTooManyAttempts):
		return NewAuthError(ErrCodeTooManyAttempts, "Too many attempts, request a new OTP", "otp")
	case errors.Is(err, ErrOTPInvalid), errors.Is(err, ErrOTPNotFound):
		return NewAuthError(ErrCodeInvalidOTP, "Invalid OTP", "otp")
	}
	return nil
}
