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

// Package federation implements the OIDC/OAuth2 federated-login client for
// Google, Microsoft, Facebook and X: per-provider authorization-code
// exchange, external ID token validation against the provider's own JWKS,
// Graph/Users-me profile normalization for providers with no ID token, and
// identity linking into the local account store.
package federation

import (
	"context"
	"errors"
	"time"
)

// Provider names, also used as the <provider> path segment in
// /auth/<provider> and /auth/<provider>/callback.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
	ProviderFacebook  = "facebook"
	ProviderX         = "x"
)

var (
	ErrProviderNotConfigured = errors.New("federation: provider not configured")
	ErrStateNotFound         = errors.New("federation: state not found or already consumed")
	ErrStateExpired          = errors.New("federation: state expired")
	ErrCallbackError         = errors.New("federation: provider returned an error")
	ErrTokenExchangeFailed   = errors.New("federation: code exchange failed")
	ErrNoIDToken             = errors.New("federation: token response had no id_token")
	ErrInvalidIDToken        = errors.New("federation: id_token failed validation")
	ErrProfileFetchFailed    = errors.New("federation: profile fetch failed")
)

// stateEntropyBytes sizes the state and PKCE verifier values minted for
// each federation attempt: 32 bytes, per spec §4.7's "state = random(32)".
const stateEntropyBytes = 32

// stateTTL is the lifetime of an OAuthState row between /auth/<provider>
// and its callback.
const stateTTL = 10 * time.Minute

// OAuthState is the short-lived, single-use row binding a federation
// attempt's CSRF state to the return_to the user should land on, and
// X's PKCE verifier when the provider requires one.
type OAuthState struct {
	State        string
	Provider     string
	ReturnTo     string
	CodeVerifier string // non-empty only for providers using PKCE (X)
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the state's TTL has elapsed.
func (s *OAuthState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// StateRepository persists OAuthState rows with atomic consume semantics
// equivalent to a conditional delete.
type StateRepository interface {
	Create(ctx context.Context, state *OAuthState) error
	// Consume atomically retrieves and deletes state. wasApplied is false
	// when no such row existed (already consumed or never created) —
	// callers MUST treat that as replay, never retry.
	Consume(ctx context.Context, state string) (row *OAuthState, wasApplied bool, err error)
}

// ProviderUserInfo is the normalized identity federation yields regardless
// of provider, ready for the account-linking step.
type ProviderUserInfo struct {
	Provider      string
	Sub           string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}
