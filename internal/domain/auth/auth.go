// Package auth covers API-key authentication. Keys are stored only as
// HMAC-SHA256 hashes; the plaintext key exists client-side only.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnknownKey is returned when no active API key matches the hash.
var ErrUnknownKey = errors.New("unknown api key")

// APIKey is the identity a validated key resolves to.
type APIKey struct {
	ID      string
	KeyHash string
	UserID  string
	Name    string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}

// HashKey computes the peppered hex HMAC-SHA256 of a presented key. The
// pepper keeps a leaked api_keys table useless without the server secret.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
