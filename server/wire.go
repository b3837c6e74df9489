package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
	"github.com/dennislee928/carbontrade/climatiq"
	"github.com/dennislee928/carbontrade/config"
	"github.com/dennislee928/carbontrade/mailer"
	"github.com/dennislee928/carbontrade/oauth2"
	"github.com/dennislee928/carbontrade/storage"
	gormstore "github.com/dennislee928/carbontrade/stores/gorm"
	"github.com/dennislee928/carbontrade/supabase"
)

// Build wires stores, auth flows and integrations from configuration. The
// database must already be migrated.
func Build(cfg *config.Config, db *gorm.DB) (*App, error) {
	users := gormstore.NewUserStore(db)
	identities := gormstore.NewIdentityStore(db)
	channels := gormstore.NewChannelStore(db)
	tokens := gormstore.NewTokenStore(db)
	refreshTokens := gormstore.NewRefreshTokenStore(db)
	if cfg.RefreshTokenTTL > 0 {
		refreshTokens.TTL = cfg.RefreshTokenTTL
	}
	apiKeys := gormstore.NewAPIKeyStore(db)

	mail := mailer.New(mailer.Options{
		MailgunDomain: cfg.Mailgun.Domain,
		MailgunAPIKey: cfg.Mailgun.APIKey,
		MailgunSender: cfg.Mailgun.Sender,
		EmailJS: mailer.EmailJS{
			ServiceID:  cfg.EmailJS.ServiceID,
			TemplateID: cfg.EmailJS.TemplateID,
			PublicKey:  cfg.EmailJS.PublicKey,
			PrivateKey: cfg.EmailJS.PrivateKey,
			FromName:   cfg.EmailJS.FromName,
		},
	})

	validate := ct.NewCredentialsValidator(identities, channels, users)
	app := &App{
		Users:         users,
		Identities:    identities,
		Balances:      gormstore.NewBalanceStore(db),
		ErrorLogs:     gormstore.NewErrorLogStore(db),
		Market:        gormstore.NewMarketStore(db),
		Notifications: gormstore.NewNotificationStore(db),
		Stats:         gormstore.NewStatsStore(db),
	}
	app.Local = &ct.LocalAuth{
		Users:               users,
		Identities:          identities,
		CreateUser:          ct.NewCreateUserFunc(users, identities, channels),
		ValidateCredentials: validate,
		UpdatePassword:      ct.NewUpdatePasswordFunc(identities, channels),
		VerifyEmail:         ct.NewVerifyEmailFunc(identities, users, tokens),
		TokenStore:          tokens,
		RefreshTokenStore:   refreshTokens,
		OTP:                 &ct.OTPManager{Store: gormstore.NewOTPStore(db), Mailer: mail},
		Mailer:              mail,
		BaseURL:             cfg.FrontendURL,
	}
	app.API = &ct.APIAuth{
		Users:                users,
		Identities:           identities,
		RefreshTokenStore:    refreshTokens,
		APIKeyStore:          apiKeys,
		JWTSecretKey:         cfg.JWTSecretKey,
		JWTIssuer:            cfg.JWTIssuer,
		AccessTokenExpiry:    cfg.AccessTokenTTL,
		RequireVerifiedEmail: cfg.RequireEmailVerification,
		ValidateCredentials:  validate,
		GetUserScopes:        ct.DefaultGetUserScopes(),
	}
	if cfg.LoginRate > 0 {
		app.API.RateLimiter = ct.NewKeyedRateLimiter(cfg.LoginRate, 0)
		accountRate := cfg.LoginAccountRate
		if accountRate <= 0 {
			accountRate = 3 * cfg.LoginRate
		}
		app.API.AccountRateLimiter = ct.NewKeyedRateLimiter(accountRate, 0)
	}
	app.Middleware = &ct.APIMiddleware{
		VerifyAccessToken: app.API.ValidateAccessToken,
		APIKeyStore:       apiKeys,
		Users:             users,
		Channels:          channels,
	}
	if cfg.Supabase.JWTSecret != "" {
		app.Middleware.ExternalVerifiers = append(app.Middleware.ExternalVerifiers, supabase.NewVerifier(cfg.Supabase.JWTSecret))
	}

	app.Social = &ct.SocialAuth{
		Auth:        app.API,
		EnsureUser:  ct.NewEnsureSocialUserFunc(users, identities, channels),
		Users:       users,
		Channels:    channels,
		Providers:   map[string]http.Handler{},
		FrontendURL: cfg.FrontendURL,
	}
	app.OAuthCallbacks = map[string]http.Handler{}
	callback := func(o config.OAuth, provider string) string {
		if o.CallbackURL != "" {
			return o.CallbackURL
		}
		return strings.TrimSuffix(cfg.BaseURL, "/") + APIPrefix + "/auth/oauth/" + provider + "/callback"
	}
	if cfg.Google.Configured() {
		g := oauth2.NewGoogleOAuth2(cfg.Google.ClientID, cfg.Google.ClientSecret, callback(cfg.Google, "google"), app.Social.SaveUserAndRedirect)
		app.Social.Providers["google"] = g
		app.OAuthCallbacks["google"] = g
	}
	if cfg.GitHub.Configured() {
		gh := oauth2.NewGithubOAuth2(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, callback(cfg.GitHub, "github"), app.Social.SaveUserAndRedirect)
		app.Social.Providers["github"] = gh
		app.OAuthCallbacks["github"] = gh
	}

	sbCfg := supabase.Config{
		URL:       cfg.Supabase.URL,
		Key:       cfg.Supabase.Key,
		JWTSecret: cfg.Supabase.JWTSecret,
		Bucket:    cfg.Supabase.Bucket,
	}
	if sbCfg.Configured() {
		sb, err := supabase.NewClient(sbCfg)
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		app.Profiles = sb
		app.Social.AuthorizeURL = sb.AuthorizeURL
		if sbCfg.Bucket != "" {
			blobs, err := sb.BlobStore()
			if err != nil {
				return nil, fmt.Errorf("supabase storage: %w", err)
			}
			app.Blobs = blobs
		}
	}
	if app.Blobs == nil {
		blobs, err := storage.NewFSStore(cfg.UploadDir, strings.TrimSuffix(cfg.BaseURL, "/")+"/uploads")
		if err != nil {
			return nil, fmt.Errorf("upload directory: %w", err)
		}
		app.Blobs = blobs
		app.UploadDir = cfg.UploadDir
	}

	var client *climatiq.Client
	if cfg.Climatiq.APIKey != "" {
		var opts []climatiq.Option
		if cfg.Climatiq.BaseURL != "" {
			opts = append(opts, climatiq.WithBaseURL(cfg.Climatiq.BaseURL))
		}
		client = climatiq.NewClient(cfg.Climatiq.APIKey, opts...)
	}
	tables := climatiq.DefaultTables()
	if cfg.Climatiq.FactorsFile != "" {
		t, err := climatiq.LoadTables(cfg.Climatiq.FactorsFile)
		if err != nil {
			return nil, err
		}
		tables = t
	}
	app.Estimator = climatiq.NewEstimator(client, tables)

	if cfg.FrontendURL != "" {
		app.AllowedOrigins = []string{cfg.FrontendURL}
	}

	slog.Info("server wired",
		"providers", len(app.Social.Providers),
		"supabase", sbCfg.Configured(),
		"climatiq", client.Configured(),
		"uploads", app.UploadDir)
	return app, nil
}
