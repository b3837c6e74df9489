package carbontrade_test

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/dennislee928/carbontrade"
)

func TestRegisterFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.Local.HandleRegister, "/api/v1/auth/register", map[string]string{
		"email": "New.User@Example.com", "password": testPassword, "name": "New User",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ct.RegisterResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "success", resp.Status)
	assert.True(t, resp.EmailConfirmationRequired)
	assert.NotEmpty(t, resp.UserID)

	user, err := env.Users.GetUserByEmail("new.user@example.com")
	require.NoError(t, err)
	assert.Equal(t, ct.StatusPending, user.Status)
	assert.Equal(t, ct.RoleUser, user.Role)

	msg := env.Mailer.lastOTP(t)
	assert.Equal(t, "new.user@example.com", msg.To)
	assert.Equal(t, "New User", msg.Name)
	assert.Len(t, msg.Code, 6)
	assert.Contains(t, msg.Body(), "This code will expire in 10 minutes.")

	// Pending accounts can't log in yet
	rec = postJSON(t, env.API.HandleLogin, "/api/v1/auth/login", map[string]string{
		"email": "new.user@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postJSON(t, env.Local.HandleVerifyOTPCode, "/api/v1/auth/verify-otp-code", map[string]string{
		"email": "new.user@example.com", "otp": msg.Code,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "OTP verified successfully")

	user, err = env.Users.GetUserByID(resp.UserID)
	require.NoError(t, err)
	assert.Equal(t, ct.StatusActive, user.Status)

	login := env.login(t, "new.user@example.com")
	assert.NotEmpty(t, login.Token)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, int64(24*60*60), login.ExpiresIn)
	require.NotNil(t, login.User.LastLogin)
}

func TestRegisterRejections(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "taken@example.com")

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		code     string
	}{
		{"missing email", "", testPassword, http.StatusBadRequest, ct.ErrCodeMissingField},
		{"bad email", "not-an-email", testPassword, http.StatusBadRequest, ct.ErrCodeInvalidEmail},
		{"long tld", "a@example.company", testPassword, http.StatusBadRequest, ct.ErrCodeInvalidEmail},
		{"short password", "a@example.com", "Pa1!", http.StatusBadRequest, ct.ErrCodeWeakPassword},
		{"no special", "a@example.com", "Password1", http.StatusBadRequest, ct.ErrCodeWeakPassword},
		{"duplicate", "TAKEN@example.com", testPassword, http.StatusConflict, ct.ErrCodeEmailExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.Local.HandleRegister, "/api/v1/auth/register", map[string]string{
				"email": tt.email, "password": tt.password,
			})
			assert.Equal(t, tt.status, rec.Code)
			var resp ct.ErrorResponse
			decodeBody(t, rec, &resp)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestSendOTPValidatesCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.Local.HandleSendOTP, "/api/v1/auth/verify-otp", map[string]string{
		"email": "otp@example.com", "password": "weak",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, env.Local.HandleSendOTP, "/api/v1/auth/verify-otp", map[string]string{
		"email": "otp@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"OTP sent successfully"}`, rec.Body.String())
	assert.Equal(t, "otp@example.com", env.Mailer.lastOTP(t).To)
}

func TestVerifyOTPCodeFailures(t *testing.T) {
	env := newTestEnv(t)
	rec := postJSON(t, env.Local.HandleSendOTP, "/api/v1/auth/verify-otp", map[string]string{
		"email": "otp@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	code := env.Mailer.lastOTP(t).Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	verify := func(otp string) (int, string) {
		rec := postJSON(t, env.Local.HandleVerifyOTPCode, "/api/v1/auth/verify-otp-code", map[string]string{
			"email": "otp@example.com", "otp": otp,
		})
		var resp ct.ErrorResponse
		if rec.Code != http.StatusOK {
			decodeBody(t, rec, &resp)
		}
		return rec.Code, resp.Code
	}

	status, errCode := verify("")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ct.ErrCodeMissingField, errCode)

	for i := 0; i < ct.OTPMaxAttempts; i++ {
		status, errCode = verify(wrong)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, ct.ErrCodeInvalidOTP, errCode)
	}

	// Locked out even with the right code
	status, errCode = verify(code)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, ct.ErrCodeTooManyAttempts, errCode)
}

func TestOTPIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "once@example.com")
	code := env.Mailer.lastOTP(t).Code

	rec := postJSON(t, env.Local.HandleVerifyOTPCode, "/api/v1/auth/verify-otp-code", map[string]string{
		"email": "once@example.com", "otp": code,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerified(t, "reset@example.com")
	session := env.login(t, "reset@example.com")

	// Unknown addresses get the same answer
	rec := postJSON(t, env.Local.HandleForgotPassword, "/api/v1/auth/forgot-password", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.Mailer.resets)

	rec = postJSON(t, env.Local.HandleForgotPassword, "/api/v1/auth/forgot-password", map[string]string{"email": "reset@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.Mailer.resets, 1)

	link, err := url.Parse(env.Mailer.resets[0])
	require.NoError(t, err)
	assert.Equal(t, "/reset-password", link.Path)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	rec = postJSON(t, env.Local.HandleResetPassword, "/api/v1/auth/reset-password", map[string]string{"token": token, "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, env.Local.HandleResetPassword, "/api/v1/auth/reset-password", map[string]string{"token": "bogus", "password": "N3w-Passw0rd!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, env.Local.HandleResetPassword, "/api/v1/auth/reset-password", map[string]string{"token": token, "password": "N3w-Passw0rd!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Token is consumed and old sessions are gone
	rec = postJSON(t, env.Local.HandleResetPassword, "/api/v1/auth/reset-password", map[string]string{"token": token, "password": "An0ther-Pass!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rt, err := env.RefreshTokens.GetRefreshToken(session.RefreshToken)
	require.NoError(t, err)
	assert.True(t, rt.Revoked)

	got, err := env.Local.ValidateCredentials("reset@example.com", "N3w-Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "change@example.com")
	session := env.login(t, "change@example.com")
	handler := env.Middleware.ValidateToken(http.HandlerFunc(env.Local.HandleChangePassword))

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": "wrong", "new_password": "N3w-Passw0rd!",
	}, session.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": testPassword, "new_password": "nocaps1!",
	}, session.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": testPassword, "new_password": "N3w-Passw0rd!",
	}, session.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := env.Local.ValidateCredentials("change@example.com", testPassword)
	assert.Error(t, err)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": testPassword, "new_password": "N3w-Passw0rd!",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmailVerificationLinkMode(t *testing.T) {
	env := newTestEnv(t)
	env.Local.OTP = nil

	rec := postJSON(t, env.Local.HandleRegister, "/api/v1/auth/register", map[string]string{
		"email": "link@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, env.Mailer.links, 1)
	assert.True(t, strings.HasPrefix(env.Mailer.links[0], "http://app.test/verify-email?token="))

	link, err := url.Parse(env.Mailer.links[0])
	require.NoError(t, err)

	rec = doJSON(t, http.HandlerFunc(env.Local.HandleVerifyEmail), http.MethodGet, "/api/v1/auth/verify-email?"+link.RawQuery, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	identity, err := env.Identities.GetIdentity("email", "link@example.com")
	require.NoError(t, err)
	assert.True(t, identity.Verified)

	rec = doJSON(t, http.HandlerFunc(env.Local.HandleVerifyEmail), http.MethodGet, "/api/v1/auth/verify-email?"+link.RawQuery, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
