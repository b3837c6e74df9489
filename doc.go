// Package carbontrade holds the accounts, authentication and trading domain
// of the carbon credit trading backend.
//
// Accounts are split into three layers: users, identities and channels.
//
// User: a platform account with a role (user or admin), a status (pending,
// active, suspended), a KYC state and profile fields.
//
// Identity: a contact method (an email address) that belongs to a user and
// carries a verified flag. Registration confirms it with a one-time code.
//
// Channel: an authentication mechanism (local password, Google, GitHub,
// Supabase) bound to an identity.
//
// # Basic Usage
//
// Open the stores and build the callbacks:
//
//	db, _ := gormstore.Open("sqlite", "carbontrade.db")
//	users := gormstore.NewUserStore(db)
//	identities := gormstore.NewIdentityStore(db)
//	channels := gormstore.NewChannelStore(db)
//
//	createUser := carbontrade.NewCreateUserFunc(users, identities, channels)
//	validate := carbontrade.NewCredentialsValidator(identities, channels, users)
//
// Serve registration and login:
//
//	local := &carbontrade.LocalAuth{
//	    Users:      users,
//	    Identities: identities,
//	    CreateUser: createUser,
//	    OTP:        &carbontrade.OTPManager{Store: gormstore.NewOTPStore(db), Mailer: mailer},
//	}
//	api := &carbontrade.APIAuth{
//	    Users:               users,
//	    RefreshTokenStore:   gormstore.NewRefreshTokenStore(db),
//	    JWTSecretKey:        secret,
//	    ValidateCredentials: validate,
//	}
//	mux.HandleFunc("/api/v1/auth/register", local.HandleRegister)
//	mux.HandleFunc("/api/v1/auth/login", api.HandleLogin)
//	mux.Handle("/api/v1/auth/token", api)
//
// The server package wires every endpoint, including the trading and
// Backstage admin surface.
//
// # Security
//
// Passwords are bcrypt hashed and must be 8 to 20 characters with upper and
// lower case letters, a digit and a special character. One-time codes are six
// digits from crypto/rand, stored hashed, valid for ten minutes and locked
// after five wrong attempts. Refresh tokens are stored hashed and rotate on
// every use; presenting a rotated token revokes its whole family.
package carbontrade
