package carbontrade

import (
	"slices"
	"strings"
)

// Scopes carried by access tokens and API keys
const (
	ScopeRead    = "read"    // read own profile, balances, market data
	ScopeWrite   = "write"   // update own profile
	ScopeTrade   = "trade"   // place orders and purchases
	ScopeOffline = "offline" // refresh tokens
	ScopeAdmin   = "admin"   // Backstage endpoints
)

// GetUserScopesFunc returns the scopes a user may be granted
type GetUserScopesFunc func(user *User) ([]string, error)

// ScopesForRole is the default scope grant for a role
func ScopesForRole(role string) []string {
	scopes := []string{ScopeRead, ScopeWrite, ScopeTrade, ScopeOffline}
	if role == RoleAdmin {
		scopes = append(scopes, ScopeAdmin)
	}
	return scopes
}

// DefaultGetUserScopes grants scopes by role
func DefaultGetUserScopes() GetUserScopesFunc {
	return func(user *User) ([]string, error) {
		return ScopesForRole(user.Role), nil
	}
}

// ParseScopes parses a space-separated scope string, dropping duplicates
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	result := []string{}
	for _, s := range strings.Fields(scopeString) {
		if !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	return result
}

func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScopes keeps the requested scopes that are also allowed
func IntersectScopes(requested, allowed []string) []string {
	result := make([]string, 0, len(requested))
	for _, s := range requested {
		if slices.Contains(allowed, s) && !slices.Contains(result, s) {
			result = append(result, s)
		}
	}
	return result
}

// ContainsAllScopes checks if all required scopes are present in the granted scopes
func ContainsAllScopes(granted, required []string) bool {
	for _, s := range required {
		if !slices.Contains(granted, s) {
			return false
		}
	}
	return true
}
