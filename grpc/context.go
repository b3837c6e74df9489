// Package grpc carries carbontrade identities across gRPC calls. Clients
// attach a bearer credential to outgoing metadata; server interceptors
// verify it and place the resulting claims in the handler's context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ct "github.com/dennislee928/carbontrade"
)

const (
	// DefaultMetadataKeyUserID is set by trusted gateways that already authenticated the caller
	DefaultMetadataKeyUserID = "x-user-id"

	MetadataKeyAuthorization = "authorization"
	MetadataKeySessionID     = "x-session-id"
)

type Config struct {
	// MetadataKeyUserID is read only when TrustUserIDMetadata is set.
	MetadataKeyUserID string

	// TrustUserIDMetadata accepts a user id forwarded by an internal
	// gateway in place of a bearer credential. Never enable this on a
	// listener reachable by end users.
	TrustUserIDMetadata bool
}

func DefaultConfig() *Config {
	return &Config{MetadataKeyUserID: DefaultMetadataKeyUserID}
}

func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
}

// UserIDFromContext returns the verified caller, or "" for anonymous calls.
func UserIDFromContext(ctx context.Context) string {
	return ct.GetUserIDFromContext(ctx)
}

func ClaimsFromContext(ctx context.Context) *ct.AccessClaims {
	return ct.ClaimsFromContext(ctx)
}

func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// BearerToOutgoingContext attaches an access token or API key to outgoing calls.
func BearerToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyAuthorization, "Bearer "+token)
}

// UserIDToOutgoingContext forwards an already authenticated user id.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, userID)
}

// SessionIDToOutgoingContext propagates the HTTP session identifier.
func SessionIDToOutgoingContext(ctx context.Context, sessionID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeySessionID, sessionID)
}

func SessionIDFromIncomingContext(ctx context.Context) string {
	return firstValue(ctx, MetadataKeySessionID)
}

// bearerFromIncomingContext returns the token from "authorization: Bearer X".
// ok is false when the header is present but malformed.
func bearerFromIncomingContext(ctx context.Context) (token string, ok bool) {
	value := firstValue(ctx, MetadataKeyAuthorization)
	if value == "" {
		return "", true
	}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
