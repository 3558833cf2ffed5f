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

package federation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/audit"
	"github.com/opentrusty/idp/internal/id"
	"golang.org/x/oauth2"
)

// verifierEntropyBytes sizes the PKCE code_verifier minted for providers
// that require PKCE (X), matching stateEntropyBytes.
const verifierEntropyBytes = 32

// Metrics receives the federation client's callback latency observations.
// Implemented by internal/observability/metrics.Meter; nil-safe no-op when
// not supplied.
type Metrics interface {
	RecordFederationCallback(ctx context.Context, provider string, seconds float64)
}

// Client orchestrates the two federation legs: BeginAuth builds the
// provider's authorization URL and persists the CSRF state; HandleCallback
// exchanges the returned code, validates the resulting identity (by ID
// token or profile fetch, depending on the provider), and links it to a
// local account.
type Client struct {
	providers  map[string]*ProviderConfig
	states     StateRepository
	users      account.UserStore
	jwks       *JWKSCache
	httpClient *http.Client
	audit      audit.Logger
	metrics    Metrics
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithMetrics attaches a Metrics recorder to the client.
func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient constructs a federation Client. providers is keyed by the
// Provider* constant; jwksClient may be nil to use JWKSCache's default
// 10s-timeout HTTP client. auditLogger may be nil to disable audit events.
func NewClient(providers map[string]*ProviderConfig, states StateRepository, users account.UserStore, jwksClient *http.Client, auditLogger audit.Logger, opts ...Option) *Client {
	c := &Client{
		providers:  providers,
		states:     states,
		users:      users,
		jwks:       NewJWKSCache(jwksClient),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		audit:      auditLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) config(provider string) (*ProviderConfig, error) {
	cfg, ok := c.providers[provider]
	if !ok || cfg == nil {
		return nil, ErrProviderNotConfigured
	}
	return cfg, nil
}

// BeginAuth starts a federated login attempt: it mints a CSRF state (and,
// for PKCE providers, a code_verifier), persists it with a 10-minute TTL,
// and returns the provider's authorization URL to redirect the user to.
func (c *Client) BeginAuth(ctx context.Context, provider, returnTo string) (string, error) {
	cfg, err := c.config(provider)
	if err != nil {
		return "", err
	}

	now := time.Now()
	state := &OAuthState{
		State:     id.NewOpaqueToken(stateEntropyBytes),
		Provider:  provider,
		ReturnTo:  returnTo,
		ExpiresAt: now.Add(stateTTL),
		CreatedAt: now,
	}

	opts := []oauth2.AuthCodeOption{}
	if cfg.UsesPKCE {
		verifier := id.NewOpaqueToken(verifierEntropyBytes)
		state.CodeVerifier = verifier
		sum := sha256.Sum256([]byte(verifier))
		challenge := base64.RawURLEncoding.EncodeToString(sum[:])
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	if err := c.states.Create(ctx, state); err != nil {
		return "", fmt.Errorf("federation: persist state: %w", err)
	}

	return cfg.oauth2Config().AuthCodeURL(state.State, opts...), nil
}

// CallbackResult is what HandleCallback yields once an external identity
// has been validated and linked to a local account.
type CallbackResult struct {
	Account  *account.Account
	ReturnTo string
}

// HandleCallback implements §4.7 steps 2-5: it atomically consumes the
// state (replay or expiry both fail closed), exchanges the authorization
// code, resolves the external identity (ID token validation for
// Google/Microsoft, profile fetch for Facebook/X), and links or creates the
// local account.
func (c *Client) HandleCallback(ctx context.Context, provider, code, state, callbackErr string) (*CallbackResult, error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() { c.metrics.RecordFederationCallback(ctx, provider, time.Since(start).Seconds()) }()
	}

	if callbackErr != "" {
		return nil, fmt.Errorf("%w: %s", ErrCallbackError, callbackErr)
	}

	cfg, err := c.config(provider)
	if err != nil {
		return nil, err
	}

	row, wasApplied, err := c.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("federation: consume state: %w", err)
	}
	if !wasApplied {
		return nil, ErrStateNotFound
	}
	if row.Provider != provider {
		return nil, ErrStateNotFound
	}
	if row.Expired(time.Now()) {
		return nil, ErrStateExpired
	}

	oauth2Cfg := cfg.oauth2Config()
	exchangeOpts := []oauth2.AuthCodeOption{}
	if row.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", row.CodeVerifier))
	}
	token, err := oauth2Cfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	info, err := c.resolveIdentity(ctx, cfg, token)
	if err != nil {
		return nil, err
	}

	acc, err := c.linkIdentity(ctx, cfg, info)
	if err != nil {
		return nil, err
	}

	if c.audit != nil {
		c.audit.Log(ctx, audit.Event{
			Type:     audit.TypeAuthSuccess,
			ActorID:  acc.Sub,
			Resource: audit.ResourceUser,
			Metadata: map[string]any{audit.AttrProvider: provider},
		})
	}

	return &CallbackResult{Account: acc, ReturnTo: row.ReturnTo}, nil
}

func (c *Client) resolveIdentity(ctx context.Context, cfg *ProviderConfig, token *oauth2.Token) (*ProviderUserInfo, error) {
	if cfg.IsOIDC() {
		raw, ok := token.Extra("id_token").(string)
		if !ok || raw == "" {
			return nil, ErrNoIDToken
		}
		return c.validateIDToken(ctx, cfg, raw)
	}
	return c.fetchProfile(ctx, cfg, token.AccessToken)
}

// linkIdentity implements §4.7 step 5: an existing ProviderAccount wins
// outright; otherwise the identity is linked onto an account resolved (or
// created) by email. Providers with no email (X) always create or attach
// via FindOrCreateByEmail with an empty email, which the user store treats
// as "no email match possible" and falls through to account creation.
func (c *Client) linkIdentity(ctx context.Context, cfg *ProviderConfig, info *ProviderUserInfo) (*account.Account, error) {
	if existing, err := c.users.FindProviderAccount(ctx, info.Provider, info.Sub); err == nil && existing != nil {
		return c.users.FindBySub(ctx, existing.AccountID)
	}

	profile := account.Profile{
		Name:       info.Name,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
		Picture:    info.Picture,
	}
	acc, err := c.users.FindOrCreateByEmail(ctx, info.Email, profile)
	if err != nil {
		return nil, fmt.Errorf("federation: resolve account: %w", err)
	}

	if err := c.users.LinkProviderAccount(ctx, account.ProviderAccount{
		Provider:    info.Provider,
		ProviderSub: info.Sub,
		AccountID:   acc.Sub,
		LinkedAt:    time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("federation: link provider account: %w", err)
	}

	return acc, nil
}
