// Package config reads the process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     int `env:"PORT" envDefault:"8080"`
	GRPCPort int `env:"GRPC_PORT" envDefault:"9090"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL"`

	JWTSecretKey             string        `env:"JWT_SECRET_KEY"`
	JWTIssuer                string        `env:"JWT_ISSUER" envDefault:"carbontrade"`
	AccessTokenTTL           time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTokenTTL          time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	RequireEmailVerification bool          `env:"REQUIRE_EMAIL_VERIFICATION" envDefault:"true"`
	// login attempts per minute per client ip and email
	LoginRate int `env:"LOGIN_RATE" envDefault:"10"`
	// login attempts per minute per email from any address; 0 means
	// three times LoginRate
	LoginAccountRate int `env:"LOGIN_ACCOUNT_RATE"`

	// BaseURL is where this API is reachable; FrontendURL is the web app
	// that verification links and social logins land on.
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	UploadDir   string `env:"UPLOAD_DIR" envDefault:"uploads"`

	Supabase Supabase `envPrefix:"SUPABASE_"`
	Mailgun  Mailgun  `envPrefix:"MAILGUN_"`
	EmailJS  EmailJS  `envPrefix:"EMAILJS_"`
	Climatiq Climatiq `envPrefix:"CLIMATIQ_"`
	Google   OAuth    `envPrefix:"GOOGLE_"`
	GitHub   OAuth    `envPrefix:"GITHUB_"`

	// APIURL is the server the CLI client commands talk to
	APIURL string `env:"CARBONTRADE_API_URL" envDefault:"http://localhost:8080"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type Supabase struct {
	URL       string `env:"URL"`
	Key       string `env:"KEY"`
	JWTSecret string `env:"JWT_SECRET"`
	Bucket    string `env:"BUCKET"`
}

type Mailgun struct {
	Domain string `env:"DOMAIN"`
	APIKey string `env:"API_KEY"`
	Sender string `env:"SENDER"`
}

type EmailJS struct {
	ServiceID  string `env:"SERVICE_ID"`
	TemplateID string `env:"TEMPLATE_ID"`
	PublicKey  string `env:"PUBLIC_KEY"`
	PrivateKey string `env:"PRIVATE_KEY"`
	FromName   string `env:"FROM_NAME"`
}

type Climatiq struct {
	APIKey      string `env:"API_KEY"`
	BaseURL     string `env:"BASE_URL"`
	FactorsFile string `env:"FACTORS_FILE"`
}

type OAuth struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

func (o OAuth) Configured() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

// Load reads the given env files (".env" when none are named) and then
// the environment. Variables already set win over file entries; missing
// files are skipped.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ValidateServe checks what the server cannot run without
func (c *Config) ValidateServe() error {
	var errs []error
	if c.JWTSecretKey == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if (c.DatabaseDriver == "postgres" || c.DatabaseDriver == "postgresql") && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.Port) }
func (c *Config) GRPCAddr() string { return fmt.Sprintf(":%d", c.GRPCPort) }

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.SlogLevel()}))
}
