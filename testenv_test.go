package carbontrade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	ct "github.com/dennislee928/carbontrade"
	gormstore "github.com/dennislee928/carbontrade/stores/gorm"
)

const (
	testSecret   = "test-secret-key-for-testing-only"
	testIssuer   = "carbontrade-test"
	testPassword = "Passw0rd!"
)

// recordingMailer keeps every message so tests can read OTPs and links
type recordingMailer struct {
	mu     sync.Mutex
	otps   []ct.OTPMessage
	links  []string
	resets []string
}

func (m *recordingMailer) SendOTP(ctx context.Context, msg ct.OTPMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps = append(m.otps, msg)
	return nil
}

func (m *recordingMailer) SendVerificationEmail(ctx context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(ctx context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, link)
	return nil
}

func (m *recordingMailer) lastOTP(t *testing.T) ct.OTPMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.otps) == 0 {
		t.Fatal("no OTP was sent")
	}
	return m.otps[len(m.otps)-1]
}

// testEnv wires LocalAuth, APIAuth and APIMiddleware over a SQLite database
type testEnv struct {
	Users         *gormstore.UserStore
	Identities    *gormstore.IdentityStore
	Channels      *gormstore.ChannelStore
	Tokens        *gormstore.TokenStore
	RefreshTokens *gormstore.RefreshTokenStore
	APIKeys       *gormstore.APIKeyStore

	Mailer     *recordingMailer
	Local      *ct.LocalAuth
	API        *ct.APIAuth
	Middleware *ct.APIMiddleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gormstore.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		Users:         gormstore.NewUserStore(db),
		Identities:    gormstore.NewIdentityStore(db),
		Channels:      gormstore.NewChannelStore(db),
		Tokens:        gormstore.NewTokenStore(db),
		RefreshTokens: gormstore.NewRefreshTokenStore(db),
		APIKeys:       gormstore.NewAPIKeyStore(db),
		Mailer:        &recordingMailer{},
	}
	validate := ct.NewCredentialsValidator(env.Identities, env.Channels, env.Users)

	env.Local = &ct.LocalAuth{
		Users:               env.Users,
		Identities:          env.Identities,
		CreateUser:          ct.NewCreateUserFunc(env.Users, env.Identities, env.Channels),
		ValidateCredentials: validate,
		UpdatePassword:      ct.NewUpdatePasswordFunc(env.Identities, env.Channels),
		VerifyEmail:         ct.NewVerifyEmailFunc(env.Identities, env.Users, env.Tokens),
		TokenStore:          env.Tokens,
		RefreshTokenStore:   env.RefreshTokens,
		OTP:                 &ct.OTPManager{Store: gormstore.NewOTPStore(db), Mailer: env.Mailer},
		Mailer:              env.Mailer,
		BaseURL:             "http://app.test",
	}
	env.API = &ct.APIAuth{
		Users:                env.Users,
		Identities:           env.Identities,
		RefreshTokenStore:    env.RefreshTokens,
		APIKeyStore:          env.APIKeys,
		JWTSecretKey:         testSecret,
		JWTIssuer:            testIssuer,
		RequireVerifiedEmail: true,
		ValidateCredentials:  validate,
	}
	env.Middleware = &ct.APIMiddleware{
		VerifyAccessToken: env.API.ValidateAccessToken,
		APIKeyStore:       env.APIKeys,
		Users:             env.Users,
		Channels:          env.Channels,
	}
	return env
}

// registerVerified creates an account and confirms it through the OTP flow
func (e *testEnv) registerVerified(t *testing.T, email string) *ct.User {
	t.Helper()
	rec := postJSON(t, e.Local.HandleRegister, "/api/v1/auth/register", map[string]string{
		"email": email, "password": testPassword, "name": "Test User",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
	code := e.Mailer.lastOTP(t).Code
	rec = postJSON(t, e.Local.HandleVerifyOTPCode, "/api/v1/auth/verify-otp-code", map[string]string{
		"email": email, "otp": code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify otp %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
	user, err := e.Users.GetUserByEmail(email)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	return user
}

// login returns an access and refresh token for a verified account
func (e *testEnv) login(t *testing.T, email string) ct.LoginResponse {
	t.Helper()
	rec := postJSON(t, e.API.HandleLogin, "/api/v1/auth/login", map[string]string{
		"email": email, "password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
	var resp ct.LoginResponse
	decodeBody(t, rec, &resp)
	return resp
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, h, http.MethodPost, path, body, "")
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}
