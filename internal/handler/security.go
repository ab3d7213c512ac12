package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/xenking/omnily-coupons/internal/domain/auth"
	"github.com/xenking/omnily-coupons/pkg/httpmiddleware"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// Security authenticates requests via HMAC-SHA256 hashed API keys and
// binds the key's organization to the request context.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and
// HMAC pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// authenticate resolves the key presented in the request.
func (s *Security) authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, errors.New("missing api key")
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return nil, err
	}

	// The stored hash must match byte for byte even after a successful lookup.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode stored hash")
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, errors.New("hash mismatch")
	}
	return info, nil
}

// Authenticate rejects requests without a valid API key with 401.
func (s *Security) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.authenticate(r)
		if err != nil {
			if !errors.Is(err, auth.ErrKeyNotFound) {
				zctx.From(r.Context()).Debug("Authentication failed", zap.Error(err))
			}
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := zctx.With(auth.WithKey(r.Context(), info),
			zap.String("organization_id", info.OrganizationID),
			zap.String("api_key_id", info.ID),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects authenticated keys lacking scope with 403.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := auth.KeyFromContext(r.Context())
			if !ok {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				httpmiddleware.WriteError(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitKey keys the limiter by API key hash, falling back to the
// client IP for anonymous requests.
func (s *Security) RateLimitKey(r *http.Request) (string, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return "key:" + auth.HashKey(s.pepper, key), nil
	}
	return httprate.KeyByRealIP(r)
}
