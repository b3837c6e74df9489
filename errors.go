package carbontrade

import (
	"errors"
	"net/http"
)

// Error codes carried by AuthError
const (
	ErrCodeMissingField       = "missing_field"
	ErrCodeInvalidEmail       = "invalid_email"
	ErrCodeWeakPassword       = "weak_password"
	ErrCodeEmailExists        = "email_exists"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeInvalidOTP         = "invalid_otp"
	ErrCodeOTPExpired         = "otp_expired"
	ErrCodeTooManyAttempts    = "too_many_attempts"
	ErrCodeNotVerified        = "not_verified"
	ErrCodeAccountSuspended   = "account_suspended"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeInvalidField       = "invalid_field"
)

// AuthError is a user-facing authentication failure
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string { return e.Message }

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// StatusCode maps the error code to an HTTP status
func (e *AuthError) StatusCode() int {
	switch e.Code {
	case ErrCodeEmailExists:
		return http.StatusConflict
	case ErrCodeInvalidCredentials, ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrCodeNotVerified, ErrCodeAccountSuspended:
		return http.StatusForbidden
	case ErrCodeTooManyAttempts:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// AsAuthError unwraps err into an *AuthError when it is one
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// AuthErrorHandler lets the host app render auth errors itself.
// Returning false falls back to the default JSON response.
type AuthErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool
