// Package middleware holds request filters for the API router.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/core"
)

// DefaultUserID is used when a request carries no X-User-ID header.
const DefaultUserID = "default"

type ctxKey struct{}

// APIKeyAuth returns middleware that validates X-API-Key header.
// If apiKey is empty, authentication is disabled.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if no key configured
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				response.Fail(w, core.Errorf(core.ErrUnauthorized, "missing X-API-Key header"))
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				response.Fail(w, core.Errorf(core.ErrUnauthorized, "invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// User stores the caller's id from X-User-ID in the request context.
func User(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-User-ID")
		if id == "" {
			id = DefaultUserID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// UserID returns the caller id set by User, or DefaultUserID.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultUserID
}
