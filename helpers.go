package carbontrade

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UpdatePasswordFunc replaces the local password for an email
type UpdatePasswordFunc func(email, newPassword string) error

// VerifyEmailFunc consumes an email verification token
type VerifyEmailFunc func(token string) error

// SocialProfile is the normalized identity handed back by a social provider
type SocialProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
	Raw     map[string]any
}

// EnsureSocialUserFunc finds or creates the user behind a social login
type EnsureSocialUserFunc func(provider string, profile SocialProfile) (*User, error)

// NewCreateUserFunc creates a CreateUserFunc from stores
func NewCreateUserFunc(userStore UserStore, identityStore IdentityStore, channelStore ChannelStore) CreateUserFunc {
	return func(creds *Credentials) (*User, error) {
		email := NormalizeEmail(creds.Email)

		if identity, err := identityStore.GetIdentity("email", email); err == nil && identity != nil {
			return nil, NewAuthError(ErrCodeEmailExists, "Email already registered", "email")
		}

		passwordHash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}

		now := time.Now()
		user := &User{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      creds.Name,
			Role:      RoleUser,
			Status:    StatusPending,
			Level:     1,
			KYCStatus: KYCNone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := userStore.CreateUser(user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		if err := identityStore.SaveIdentity(&Identity{
			Type:   "email",
			Value:  email,
			UserID: user.ID,
		}); err != nil {
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}

		identityKey := IdentityKey("email", email)
		channel := &Channel{
			Provider:    "local",
			IdentityKey: identityKey,
			Credentials: map[string]any{"password_hash": string(passwordHash)},
			Profile:     map[string]any{"email": email, "name": creds.Name},
		}
		if err := channelStore.SaveChannel(channel); err != nil {
			return nil, fmt.Errorf("failed to create channel: %w", err)
		}

		slog.Info("created local user", "user_id", user.ID, "identity", identityKey)
		return user, nil
	}
}

// NewCredentialsValidator creates a CredentialsValidator from stores.
// Every failure is reported as invalid_credentials.
func NewCredentialsValidator(identityStore IdentityStore, channelStore ChannelStore, userStore UserStore) CredentialsValidator {
	invalid := NewAuthError(ErrCodeInvalidCredentials, "Invalid email or password", "")
	return func(email, password string) (*User, error) {
		email = NormalizeEmail(email)

		channel, err := channelStore.GetChannel("local", IdentityKey("email", email))
		if err != nil {
			return nil, invalid
		}
		passwordHash, ok := channel.Credentials["password_hash"].(string)
		if !ok {
			return nil, invalid
		}
		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
			return nil, invalid
		}

		identity, err := identityStore.GetIdentity("email", email)
		if err != nil {
			return nil, invalid
		}
		return userStore.GetUserByID(identity.UserID)
	}
}

// NewUpdatePasswordFunc creates an UpdatePasswordFunc from stores
func NewUpdatePasswordFunc(identityStore IdentityStore, channelStore ChannelStore) UpdatePasswordFunc {
	return func(email, newPassword string) error {
		email = NormalizeEmail(email)
		identity, err := identityStore.GetIdentity("email", email)
		if err != nil {
			return ErrUserNotFound
		}

		passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		identityKey := IdentityKey("email", email)
		channel, err := channelStore.GetChannel("local", identityKey)
		if err != nil {
			// Social-only accounts get a local channel on first password set
			channel = &Channel{
				Provider:    "local",
				IdentityKey: identityKey,
				Credentials: map[string]any{},
				Profile:     map[string]any{"email": email},
			}
		}
		if channel.Credentials == nil {
			channel.Credentials = map[string]any{}
		}
		channel.Credentials["password_hash"] = string(passwordHash)
		if err := channelStore.SaveChannel(channel); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		slog.Info("password updated", "user_id", identity.UserID)
		return nil
	}
}

// NewVerifyEmailFunc creates a VerifyEmailFunc that marks the identity
// verified and activates a pending user.
func NewVerifyEmailFunc(identityStore IdentityStore, userStore UserStore, tokenStore TokenStore) VerifyEmailFunc {
	return func(token string) error {
		authToken, err := tokenStore.GetToken(token)
		if err != nil || !authToken.IsValid(TokenTypeEmailVerification) {
			return NewAuthError(ErrCodeInvalidToken, "Invalid or expired token", "token")
		}

		if err := MarkEmailVerified(identityStore, userStore, authToken.Email); err != nil {
			return err
		}

		if err := tokenStore.DeleteToken(token); err != nil {
			slog.Warn("failed to delete verification token", "error", err)
		}
		return nil
	}
}

// MarkEmailVerified flags the email identity verified and moves a pending
// owner to active.
func MarkEmailVerified(identityStore IdentityStore, userStore UserStore, email string) error {
	email = NormalizeEmail(email)
	if err := identityStore.MarkIdentityVerified("email", email); err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	identity, err := identityStore.GetIdentity("email", email)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	user, err := userStore.GetUserByID(identity.UserID)
	if err != nil {
		return err
	}
	if user.Status == StatusPending {
		user.Status = StatusActive
		user.UpdatedAt = time.Now()
		if err := userStore.SaveUser(user); err != nil {
			return fmt.Errorf("failed to activate user: %w", err)
		}
	}
	return nil
}

// NewEnsureSocialUserFunc links a social login to an existing account by
// email, or creates a new active account.
func NewEnsureSocialUserFunc(userStore UserStore, identityStore IdentityStore, channelStore ChannelStore) EnsureSocialUserFunc {
	return func(provider string, profile SocialProfile) (*User, error) {
		email := NormalizeEmail(profile.Email)
		if email == "" {
			return nil, fmt.Errorf("%s did not return an email address", provider)
		}

		var user *User
		identity, err := identityStore.GetIdentity("email", email)
		if err == nil && identity != nil {
			user, err = userStore.GetUserByID(identity.UserID)
			if err != nil {
				return nil, err
			}
		} else {
			now := time.Now()
			user = &User{
				ID:         uuid.NewString(),
				Email:      email,
				Name:       profile.Name,
				Role:       RoleUser,
				Status:     StatusActive,
				Level:      1,
				PictureURL: profile.Picture,
				KYCStatus:  KYCNone,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := userStore.CreateUser(user); err != nil {
				return nil, fmt.Errorf("failed to create user: %w", err)
			}
			if err := identityStore.SaveIdentity(&Identity{Type: "email", Value: email, UserID: user.ID, Verified: true}); err != nil {
				return nil, fmt.Errorf("failed to create identity: %w", err)
			}
			slog.Info("created social user", "user_id", user.ID, "provider", provider)
		}

		// The provider vouches for the address
		if err := MarkEmailVerified(identityStore, userStore, email); err != nil {
			return nil, err
		}
		if user, err = userStore.GetUserByID(user.ID); err != nil {
			return nil, err
		}

		if provider == "google" && user.GoogleID == "" && profile.Subject != "" {
			user.GoogleID = profile.Subject
			user.UpdatedAt = time.Now()
			if err := userStore.SaveUser(user); err != nil {
				return nil, fmt.Errorf("failed to link google id: %w", err)
			}
		}

		channel := &Channel{
			Provider:    provider,
			IdentityKey: IdentityKey("email", email),
			Credentials: map[string]any{"subject": profile.Subject},
			Profile:     profile.Raw,
		}
		if err := channelStore.SaveChannel(channel); err != nil {
			return nil, fmt.Errorf("failed to save channel: %w", err)
		}
		return user, nil
	}
}
