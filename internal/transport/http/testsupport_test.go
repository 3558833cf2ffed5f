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

package http

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/audit"
	"github.com/opentrusty/idp/internal/clients"
	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/keys"
	"github.com/opentrusty/idp/internal/oauth2"
	"github.com/opentrusty/idp/internal/session"
	"github.com/stretchr/testify/require"
)

// memClientRepository is the same in-memory fake internal/clients tests
// itself against, duplicated here since it lives in an external _test
// package there and Handler's fields are concrete struct types, not
// interfaces.
type memClientRepository struct {
	mu   sync.Mutex
	byID map[string]*clients.Client
}

func newMemClientRepository() *memClientRepository {
	return &memClientRepository{byID: make(map[string]*clients.Client)}
}

func (r *memClientRepository) Create(ctx context.Context, c *clients.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
	return nil
}

func (r *memClientRepository) GetByID(ctx context.Context, id string) (*clients.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, clients.ErrClientNotFound
	}
	return c, nil
}

func (r *memClientRepository) Update(ctx context.Context, c *clients.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; !ok {
		return clients.ErrClientNotFound
	}
	r.byID[c.ID] = c
	return nil
}

type memCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*oauth2.AuthorizationCode
	used  map[string]bool
}

func newMemCodeRepository() *memCodeRepository {
	return &memCodeRepository{codes: make(map[string]*oauth2.AuthorizationCode), used: make(map[string]bool)}
}

func (r *memCodeRepository) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code.Code] = code
	return nil
}

func (r *memCodeRepository) Consume(ctx context.Context, code string) (*oauth2.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok {
		return nil, oauth2.ErrCodeNotFound
	}
	if r.used[code] {
		return nil, oauth2.ErrCodeAlreadyUsed
	}
	r.used[code] = true
	return c, nil
}

type memRefreshRepository struct {
	mu     sync.Mutex
	byHash map[string]*oauth2.RefreshToken
}

func newMemRefreshRepository() *memRefreshRepository {
	return &memRefreshRepository{byHash: make(map[string]*oauth2.RefreshToken)}
}

func (r *memRefreshRepository) Create(ctx context.Context, token *oauth2.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.byHash[token.TokenHash] = &cp
	return nil
}

func (r *memRefreshRepository) GetByHash(ctx context.Context, tokenHash string) (*oauth2.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byHash[tokenHash]
	if !ok {
		return nil, oauth2.ErrRefreshTokenNotFound
	}
	cp := *rt
	return &cp, nil
}

func (r *memRefreshRepository) Rotate(ctx context.Context, oldHash string, next *oauth2.RefreshToken) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byHash[oldHash]
	if !ok || old.Revoked {
		return false, nil
	}
	old.Revoked = true
	cp := *next
	r.byHash[next.TokenHash] = &cp
	return true, nil
}

func (r *memRefreshRepository) RevokeChain(ctx context.Context, chainID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.byHash {
		if rt.ChainID == chainID {
			rt.Revoked = true
		}
	}
	return nil
}

func (r *memRefreshRepository) Revoke(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byHash[tokenHash]
	if !ok {
		return oauth2.ErrRefreshTokenNotFound
	}
	rt.Revoked = true
	return nil
}

type memUserStore struct{}

func (memUserStore) FindBySub(ctx context.Context, sub string) (*account.Account, error) {
	return &account.Account{Sub: sub, Email: "user@example.com", EmailVerified: true, Profile: account.Profile{Name: "Test User"}}, nil
}
func (memUserStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}
func (memUserStore) FindOrCreateByEmail(ctx context.Context, email string, profile account.Profile) (*account.Account, error) {
	return nil, account.ErrAccountNotFound
}
func (memUserStore) FindProviderAccount(ctx context.Context, provider, providerSub string) (*account.ProviderAccount, error) {
	return nil, account.ErrAccountNotFound
}
func (memUserStore) LinkProviderAccount(ctx context.Context, link account.ProviderAccount) error {
	return nil
}

type noopAuditLogger struct{}

func (noopAuditLogger) Log(ctx context.Context, event audit.Event) {}

func testKeyManager(t *testing.T) *keys.Manager {
	t.Helper()
	mgr := keys.NewManager(nil, nil, time.Hour)
	_, err := mgr.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)
	return mgr
}

// testHandler wires a Handler against in-memory fakes, mirroring the
// collaborators cmd/server/main.go assembles, minus persistence.
func testHandler(t *testing.T) (*Handler, *keys.Manager) {
	t.Helper()

	clientRepo := newMemClientRepository()
	clientsSvc := clients.NewService(clientRepo)

	keyMgr := testKeyManager(t)
	oauth2Svc := oauth2.NewService(
		newMemCodeRepository(),
		newMemRefreshRepository(),
		keyMgr,
		memUserStore{},
		noopAuditLogger{},
		oauth2.Config{
			Issuer:          "https://idp.example.com",
			DefaultAudience: "https://idp.example.com",
			AccessTokenTTL:  15 * time.Minute,
			IDTokenTTL:      15 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			CodeTTL:         60 * time.Second,
		},
	)

	sessionKey := []byte("0123456789abcdef0123456789abcdef")
	sessions := session.NewManager(session.Config{
		Algorithm:  jose.HS256,
		SigningKey: interface{}(sessionKey),
		VerifyKey:  interface{}(sessionKey),
		TTL:        time.Hour,
	})

	h := NewHandler(
		clientsSvc,
		oauth2Svc,
		nil,
		keyMgr,
		sessions,
		nil,
		memUserStore{},
		noopAuditLogger{},
		"https://idp.example.com",
		false,
		3600,
	)
	return h, keyMgr
}

// registerTestClient registers a client directly against h.Clients so tests
// don't have to go through the HTTP registration endpoint. The returned
// ClientWithSecret carries the plaintext secret alongside the embedded
// Client fields (ID, GrantTypes, ...).
func registerTestClient(t *testing.T, h *Handler, in clients.RegisterInput) *clients.ClientWithSecret {
	t.Helper()
	result, err := h.Clients.Register(context.Background(), in)
	require.NoError(t, err)
	return result
}
