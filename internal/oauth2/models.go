// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package oauth2 implements the token service and the authorization/token
// endpoint control flow: authorization code issuance and single-use
// consumption, refresh token rotation with replay-triggered chain
// revocation, the client_credentials grant, RFC 7009 revocation, and
// RFC 7662 introspection.
package oauth2

import (
	"context"
	"errors"
	"time"
)

// Domain errors. Handlers translate these to RFC 6749 §5.2 wire errors;
// the mapping lives in the transport layer, not here.
var (
	ErrCodeNotFound        = errors.New("oauth2: authorization code not found")
	ErrCodeExpired         = errors.New("oauth2: authorization code expired")
	ErrCodeAlreadyUsed     = errors.New("oauth2: authorization code already used")
	ErrCodeClientMismatch  = errors.New("oauth2: authorization code client_id mismatch")
	ErrRedirectURIMismatch = errors.New("oauth2: redirect_uri mismatch")
	ErrPKCEFailed          = errors.New("oauth2: code_verifier does not match code_challenge")
	ErrPKCERequired        = errors.New("oauth2: code_verifier required")
	ErrUnauthorizedClient  = errors.New("oauth2: client not registered for this grant")

	ErrRefreshTokenNotFound  = errors.New("oauth2: refresh token not found")
	ErrRefreshTokenExpired   = errors.New("oauth2: refresh token expired")
	ErrRefreshTokenReplay    = errors.New("oauth2: refresh token reuse detected, chain revoked")
	ErrRefreshClientMismatch = errors.New("oauth2: refresh token client_id mismatch")
	ErrScopeNotSubset        = errors.New("oauth2: requested scope exceeds original grant")

	ErrInvalidClient = errors.New("oauth2: invalid client credentials")
)

// PKCE code challenge methods.
const (
	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// AuthorizationCode is a single-use, short-lived grant minted by the
// authorization endpoint and consumed exactly once by the token endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	UserSub             string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	AuthTime            time.Time
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// Expired reports whether the code's TTL has elapsed.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshToken is the persisted record behind an opaque refresh token; only
// its SHA-256 hash is stored. ChainID is stable across rotations of the
// same logical grant so that a replay can revoke every live descendant with
// a single equality lookup, rather than a timestamp-ordering query.
type RefreshToken struct {
	TokenHash string
	ChainID   string
	ClientID  string
	UserSub   string
	Scopes    []string
	AuthTime  time.Time
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Expired reports whether the refresh token's TTL has elapsed.
func (r *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AuthorizationCodeRepository persists authorization codes. Consume must be
// an atomic compare-and-set equivalent to
// `UPDATE ... WHERE code = $1 AND used = false` (or a conditional
// delete) so that concurrent redemption attempts on the same code can never
// both succeed.
type AuthorizationCodeRepository interface {
	Create(ctx context.Context, code *AuthorizationCode) error
	// Consume atomically retrieves and invalidates code. It returns
	// ErrCodeNotFound if no such code exists, or ErrCodeAlreadyUsed if the
	// code existed but the atomic consume lost the race (already redeemed).
	Consume(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenRepository persists refresh tokens and implements the
// rotate-or-replay contract of §4.3.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Rotate atomically marks oldHash revoked and inserts next, succeeding
	// only if oldHash was not already revoked at the time of the update
	// (compare-and-set on the revoked flag). applied is false when the
	// presented token had already been revoked/rotated by a concurrent
	// request — the caller MUST treat that as replay, never as a retry.
	Rotate(ctx context.Context, oldHash string, next *RefreshToken) (applied bool, err error)

	// RevokeChain revokes every token sharing chainID, used by the replay
	// defense. RFC 7009 revocation goes through Revoke and affects only the
	// presented token.
	RevokeChain(ctx context.Context, chainID string) error

	// Revoke revokes a single token by hash (RFC 7009, single-token path).
	Revoke(ctx context.Context, tokenHash string) error
}
