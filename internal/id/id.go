// Package id provides identifier generation shared across the provider:
// UUIDv7 for stable resource identifiers and opaque high-entropy strings
// for codes and tokens.
package id

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// NewUUIDv7 returns a time-ordered UUID for a new resource.
func NewUUIDv7() string {
	u, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system entropy source is broken,
		// which we cannot recover from.
		u = uuid.New()
	}
	return u.String()
}

// NewOpaqueToken returns a URL-safe, unpadded base64 string encoding n
// random bytes. Callers choose n to meet the entropy floor for their use
// (authorization codes and refresh tokens require at least 128 bits).
func NewOpaqueToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("id: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
