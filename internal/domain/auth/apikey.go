package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeCouponsRead   = "coupons:read"
	ScopeCouponsWrite  = "coupons:write"
	ScopeCouponsRedeem = "coupons:redeem"
)

// AllScopes lists every scope, in the order they are granted to seeded keys.
var AllScopes = []string{ScopeCouponsRead, ScopeCouponsWrite, ScopeCouponsRedeem}

// ErrKeyNotFound is returned when no active key matches the hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID             string
	OrganizationID string
	KeyHash        string
	Name           string
	Scopes         []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which keys are stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

type keyInfoCtx struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoCtx{}, info)
}

// KeyFromContext returns the authenticated key, if any.
func KeyFromContext(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(keyInfoCtx{}).(*APIKeyInfo)
	return info, ok && info != nil
}

// OrganizationFromContext returns the organization of the authenticated
// key, or "" when the request is unauthenticated.
func OrganizationFromContext(ctx context.Context) string {
	if info, ok := KeyFromContext(ctx); ok {
		return info.OrganizationID
	}
	return ""
}
