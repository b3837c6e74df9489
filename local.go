package carbontrade

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LocalAuth serves email/password account flows: registration, OTP
// confirmation, email verification and password management.
type LocalAuth struct {
	Users      UserStore
	Identities IdentityStore

	CreateUser          CreateUserFunc
	ValidateSignup      SignupValidator // Defaults to DefaultSignupValidator
	ValidateCredentials CredentialsValidator
	UpdatePassword      UpdatePasswordFunc
	VerifyEmail         VerifyEmailFunc

	// Optional token store for email verification links and password reset
	TokenStore TokenStore

	// Refresh tokens are revoked after password changes when set
	RefreshTokenStore RefreshTokenStore

	OTP    *OTPManager
	Mailer Mailer

	// Base URL of the web app, used for verification and reset links
	BaseURL string

	// OnSignupError is called when registration fails. If nil, returns JSON error.
	OnSignupError AuthErrorHandler
}

func (a *LocalAuth) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", strings.TrimSuffix(a.BaseURL, "/"), path, url.QueryEscape(token))
}

// HandleSendOTP handles POST /auth/verify-otp: validates the submitted
// credentials' format and mails a fresh OTP.
func (a *LocalAuth) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	if a.OTP == nil {
		WriteError(w, http.StatusInternalServerError, "OTP not configured")
		return
	}
	var creds Credentials
	if err := DecodeJSON(r, &creds); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := DefaultSignupValidator(&creds); err != nil {
		if ae, ok := AsAuthError(err); ok {
			WriteAuthError(w, ae)
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.OTP.Issue(r.Context(), creds.Email, creds.Name, OTPPurposeSignup); err != nil {
		slog.Error("failed to issue otp", "email", creds.Email, "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to send OTP")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "OTP sent successfully"})
}

// HandleVerifyOTPCode handles POST /auth/verify-otp-code {email, otp}
func (a *LocalAuth) HandleVerifyOTPCode(w http.ResponseWriter, r *http.Request) {
	if a.OTP == nil {
		WriteError(w, http.StatusInternalServerError, "OTP not configured")
		return
	}
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.OTP == "" {
		WriteAuthError(w, NewAuthError(ErrCodeMissingField, "Email and OTP are required", ""))
		return
	}

	if err := a.OTP.Verify(req.Email, OTPPurposeSignup, req.OTP); err != nil {
		if ae := otpAuthError(err); ae != nil {
			WriteAuthError(w, ae)
			return
		}
		slog.Error("otp verification failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to verify OTP")
		return
	}

	if a.Identities != nil && a.Users != nil {
		if _, err := a.Identities.GetIdentity("email", NormalizeEmail(req.Email)); err == nil {
			if err := MarkEmailVerified(a.Identities, a.Users, req.Email); err != nil {
				slog.Error("failed to mark email verified", "error", err)
				WriteError(w, http.StatusInternalServerError, "Failed to verify OTP")
				return
			}
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "OTP verified successfully"})
}

// HandleVerifyEmail handles GET /auth/verify-email?token=
func (a *LocalAuth) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if a.VerifyEmail == nil {
		WriteError(w, http.StatusInternalServerError, "Email verification not configured")
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		WriteError(w, http.StatusBadRequest, "Token required")
		return
	}
	if err := a.VerifyEmail(token); err != nil {
		if ae, ok := AsAuthError(err); ok {
			WriteAuthError(w, ae)
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteData(w, http.StatusOK, nil, "Email verified successfully")
}

// SendVerificationLink mails an email verification link to the user
func (a *LocalAuth) SendVerificationLink(r *http.Request, user *User) error {
	if a.TokenStore == nil || a.Mailer == nil {
		return errors.New("email verification not configured")
	}
	token, err := a.TokenStore.CreateToken(user.ID, user.Email, TokenTypeEmailVerification, TokenExpiryEmailVerification)
	if err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return a.Mailer.SendVerificationEmail(r.Context(), user.Email, a.link("/verify-email", token.Token))
}

// HandleForgotPassword handles POST /auth/forgot-password {email}. The
// response never reveals whether the address is registered.
func (a *LocalAuth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if a.TokenStore == nil || a.Mailer == nil {
		WriteError(w, http.StatusInternalServerError, "Password reset not configured")
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Email == "" {
		WriteError(w, http.StatusBadRequest, "Email required")
		return
	}
	email := NormalizeEmail(req.Email)

	if user, err := a.Users.GetUserByEmail(email); err == nil {
		token, err := a.TokenStore.CreateToken(user.ID, email, TokenTypePasswordReset, TokenExpiryPasswordReset)
		if err != nil {
			log.Printf("Error creating reset token: %v", err)
		} else if err := a.Mailer.SendPasswordResetEmail(r.Context(), email, a.link("/reset-password", token.Token)); err != nil {
			log.Printf("Error sending reset email: %v", err)
		}
	}

	WriteData(w, http.StatusOK, nil, "If that email exists, a reset link has been sent")
}

// HandleResetPassword handles POST /auth/reset-password {token, password}
func (a *LocalAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	if a.TokenStore == nil || a.UpdatePassword == nil {
		WriteError(w, http.StatusInternalServerError, "Password reset not configured")
		return
	}
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := DecodeJSON(r, &req); err != nil || req.Token == "" {
		WriteError(w, http.StatusBadRequest, "Token and password required")
		return
	}

	authToken, err := a.TokenStore.GetToken(req.Token)
	if err != nil || !authToken.IsValid(TokenTypePasswordReset) {
		WriteAuthError(w, NewAuthError(ErrCodeInvalidToken, "Invalid or expired token", "token"))
		return
	}
	if err := ValidatePassword(req.Password); err != nil {
		ae, _ := AsAuthError(err)
		WriteAuthError(w, ae)
		return
	}

	if err := a.UpdatePassword(authToken.Email, req.Password); err != nil {
		log.Printf("Error updating password: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}
	if err := a.TokenStore.DeleteToken(req.Token); err != nil {
		log.Printf("Warning: failed to delete reset token: %v", err)
	}
	a.revokeSessions(authToken.UserID)

	// Whoever holds the reset link controls the inbox
	if a.Identities != nil && a.Users != nil {
		if err := MarkEmailVerified(a.Identities, a.Users, authToken.Email); err != nil {
			log.Printf("Warning: failed to mark email verified: %v", err)
		}
	}
	WriteData(w, http.StatusOK, nil, "Password has been reset")
}

// HandleChangePassword handles POST /auth/change-password for the
// authenticated user.
func (a *LocalAuth) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if a.ValidateCredentials == nil || a.UpdatePassword == nil {
		WriteError(w, http.StatusInternalServerError, "Password change not configured")
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		WriteAuthError(w, NewAuthError(ErrCodeMissingField, "Current and new password are required", ""))
		return
	}

	user, err := a.Users.GetUserByID(userID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if _, err := a.ValidateCredentials(user.Email, req.CurrentPassword); err != nil {
		WriteAuthError(w, NewAuthError(ErrCodeInvalidCredentials, "Current password is incorrect", "current_password"))
		return
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		ae, _ := AsAuthError(err)
		WriteAuthError(w, ae)
		return
	}

	if err := a.UpdatePassword(user.Email, req.NewPassword); err != nil {
		log.Printf("Error updating password: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}
	user.UpdatedAt = time.Now()
	if err := a.Users.SaveUser(user); err != nil {
		log.Printf("Warning: failed to touch user: %v", err)
	}
	a.revokeSessions(user.ID)
	WriteData(w, http.StatusOK, nil, "Password changed successfully")
}

func (a *LocalAuth) revokeSessions(userID string) {
	if a.RefreshTokenStore == nil || userID == "" {
		return
	}
	if err := a.RefreshTokenStore.RevokeUserTokens(userID); err != nil {
		log.Printf("Warning: failed to revoke sessions for %s: %v", userID, err)
	}
}

func (a *LocalAuth) handleSignupError(err *AuthError, w http.ResponseWriter, r *http.Request) {
	if a.OnSignupError != nil && a.OnSignupError(err, w, r) {
		return
	}
	WriteAuthError(w, err)
}
