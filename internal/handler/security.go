package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

const apiKeyHeader = "X-API-Key"

var errUnauthorized = errors.New("unauthorized")

type keyCtx struct{}

// KeyFromContext returns the API key that authenticated the request.
func KeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(keyCtx{}).(*auth.APIKeyInfo)
	return info, ok
}

// actor names the caller for audit fields.
func actor(ctx context.Context) string {
	if info, ok := KeyFromContext(ctx); ok {
		return info.Name
	}
	return ""
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, the form stored
// in api_keys.key_hash.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(sum(pepper, key))
}

func sum(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// authenticate resolves the presented key. The stored hash is compared in
// constant time against the computed one.
func (h *Handler) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := sum(h.cfg.APIKeyPepper, key)

	info, err := h.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return nil, errUnauthorized
		}
		return nil, errors.Wrap(err, "find key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

// requireKey rejects requests without a valid key. A non-empty scope must
// also be granted to the key.
func (h *Handler) requireKey(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := h.authenticate(r.Context(), r.Header.Get(apiKeyHeader))
			switch {
			case errors.Is(err, errUnauthorized):
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key")
				return
			case err != nil:
				zctx.From(r.Context()).Error("Authenticate", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
				return
			}
			if scope != "" && !info.HasScope(scope) {
				httpmiddleware.WriteError(w, http.StatusForbidden, "forbidden", "api key lacks scope "+scope)
				return
			}

			ctx := context.WithValue(r.Context(), keyCtx{}, info)
			ctx = zctx.With(ctx, zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
