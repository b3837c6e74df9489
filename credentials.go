package carbontrade

import (
	"regexp"
	"strings"
	"unicode"
)

// Credentials represents what a user submits to register or log in
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// SignupValidator validates credentials during registration
type SignupValidator func(creds *Credentials) error

// CredentialsValidator checks an email/password pair and returns the user
type CredentialsValidator func(email, password string) (*User, error)

// CreateUserFunc creates a new local user from validated credentials
type CreateUserFunc func(creds *Credentials) (*User, error)

var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,4}$`)

// Characters that satisfy the "special character" rule
const PasswordSpecialChars = `!@#$%^&*(),.?":{}|<>`

const (
	PasswordMinLength = 8
	PasswordMaxLength = 20
)

// ValidateEmail checks the address format after case folding
func ValidateEmail(email string) error {
	if email == "" {
		return NewAuthError(ErrCodeMissingField, "Email is required", "email")
	}
	if !emailRegex.MatchString(NormalizeEmail(email)) {
		return NewAuthError(ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	return nil
}

// ValidatePassword enforces the password policy: 8-20 characters with at least
// one upper case letter, lower case letter, digit and special character.
func ValidatePassword(password string) error {
	if password == "" {
		return NewAuthError(ErrCodeMissingField, "Password is required", "password")
	}
	n := len([]rune(password))
	if n < PasswordMinLength || n > PasswordMaxLength {
		return NewAuthError(ErrCodeWeakPassword, "Password must be between 8 and 20 characters", "password")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSpecialChars, r):
			special = true
		}
	}
	switch {
	case !upper:
		return NewAuthError(ErrCodeWeakPassword, "Password must contain at least one uppercase letter", "password")
	case !lower:
		return NewAuthError(ErrCodeWeakPassword, "Password must contain at least one lowercase letter", "password")
	case !digit:
		return NewAuthError(ErrCodeWeakPassword, "Password must contain at least one number", "password")
	case !special:
		return NewAuthError(ErrCodeWeakPassword, "Password must contain at least one special character", "password")
	}
	return nil
}

// DefaultSignupValidator applies the email and password rules
var DefaultSignupValidator SignupValidator = func(creds *Credentials) error {
	if err := ValidateEmail(creds.Email); err != nil {
		return err
	}
	return ValidatePassword(creds.Password)
}
