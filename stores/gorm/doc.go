// Package gorm provides GORM-based implementations of the carbontrade store
// interfaces. Open selects PostgreSQL (pgx) for production or a pure-Go
// SQLite for development and tests.
//
// # Database Schema
//
// AutoMigrate creates:
//   - users, identities, channels: accounts and how they authenticate
//   - auth_tokens, otp_codes: verification/reset tokens and one-time codes
//   - refresh_tokens, api_keys: API credentials
//   - user_balances, carbon_credits, orders, assets, trades: the market
//   - notifications, error_logs: Backstage support data
//
// # Usage
//
//	db, err := gormstore.Open("postgres", os.Getenv("DATABASE_URL"))
//	if err != nil { ... }
//	if err := gormstore.AutoMigrate(db); err != nil { ... }
//	users := gormstore.NewUserStore(db)
//	market := gormstore.NewMarketStore(db)
package gorm
