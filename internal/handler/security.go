package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/oakmarket/checkout/internal/domain/auth"
)

type contextKey int

const userIDKey contextKey = iota

// UserID returns the authenticated user id placed in the context by
// APIKeyAuth, or "" when the request was not authenticated.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// APIKeyAuth authenticates requests via the api_key header: the presented
// key is HMAC-hashed with the server pepper, looked up, and compared in
// constant time against the stored hash.
func APIKeyAuth(apikeys auth.Repository, pepper []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("api_key")
			if key == "" {
				respondError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			mac := hmac.New(sha256.New, pepper)
			mac.Write([]byte(key))
			hash := mac.Sum(nil)
			hexHash := hex.EncodeToString(hash)

			info, err := apikeys.FindByHash(r.Context(), hexHash)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			// Constant-time comparison guards against timing side-channels
			// even though the lookup already succeeded.
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, info.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
