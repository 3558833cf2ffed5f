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

package clients

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/opentrusty/idp/internal/id"
)

// secretEntropyBytes is the number of random bytes in a generated client
// secret (32 bytes = 256 bits).
const secretEntropyBytes = 32

// Service implements the client registry.
type Service struct {
	repo Repository
}

// NewService wires a client registry service against its repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register validates input, assigns a UUID, and — unless the client is
// public (auth method "none") — generates a 32-byte URL-safe secret and
// stores only its SHA-256 hex digest. The plaintext secret is returned
// exactly once, in the ClientWithSecret result.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*ClientWithSecret, error) {
	if err := validateRegistration(input.Name, input.RedirectURIs, input.GrantTypes, input.ResponseTypes, input.Scopes, input.TokenEndpointAuthMethod); err != nil {
		return nil, err
	}

	now := time.Now()
	c := Client{
		ID:                      id.NewUUIDv7(),
		Name:                    input.Name,
		RedirectURIs:            input.RedirectURIs,
		GrantTypes:              input.GrantTypes,
		ResponseTypes:           input.ResponseTypes,
		Scopes:                  input.Scopes,
		TokenEndpointAuthMethod: input.TokenEndpointAuthMethod,
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	var secret string
	if c.TokenEndpointAuthMethod != AuthMethodNone {
		secret = id.NewOpaqueToken(secretEntropyBytes)
		c.SecretHash = hashSecret(secret)
	}

	if err := s.repo.Create(ctx, &c); err != nil {
		return nil, err
	}

	return &ClientWithSecret{Client: c, Secret: secret}, nil
}

// Get fetches a client by id. An inactive client is indistinguishable from
// a nonexistent one: both return ErrClientNotFound.
func (s *Service) Get(ctx context.Context, clientID string) (*Client, error) {
	c, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return nil, ErrClientNotFound
	}
	if !c.IsActive {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// Authenticate resolves a client by id and, for confidential clients,
// verifies secret against the stored hash with a constant-time compare.
// Public clients (auth method "none") authenticate with no secret.
func (s *Service) Authenticate(ctx context.Context, clientID, secret string) (*Client, error) {
	c, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return nil, ErrInvalidClient
	}
	if !c.IsActive {
		return nil, ErrClientInactive
	}
	if c.TokenEndpointAuthMethod == AuthMethodNone {
		return c, nil
	}
	if subtle.ConstantTimeCompare([]byte(hashSecret(secret)), []byte(c.SecretHash)) != 1 {
		return nil, ErrInvalidClient
	}
	return c, nil
}

// Update applies a partial patch, re-validating any field present in patch
// using the same rules as Register.
func (s *Service) Update(ctx context.Context, clientID string, patch UpdateInput) (*Client, error) {
	c, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return nil, ErrClientNotFound
	}

	name := c.Name
	if patch.Name != nil {
		name = *patch.Name
	}
	redirectURIs := c.RedirectURIs
	if patch.RedirectURIs != nil {
		redirectURIs = patch.RedirectURIs
	}
	grantTypes := c.GrantTypes
	if patch.GrantTypes != nil {
		grantTypes = patch.GrantTypes
	}
	responseTypes := c.ResponseTypes
	if patch.ResponseTypes != nil {
		responseTypes = patch.ResponseTypes
	}
	scopes := c.Scopes
	if patch.Scopes != nil {
		scopes = patch.Scopes
	}
	authMethod := c.TokenEndpointAuthMethod
	if patch.TokenEndpointAuthMethod != nil {
		authMethod = *patch.TokenEndpointAuthMethod
	}

	if err := validateRegistration(name, redirectURIs, grantTypes, responseTypes, scopes, authMethod); err != nil {
		return nil, err
	}

	c.Name = name
	c.RedirectURIs = redirectURIs
	c.GrantTypes = grantTypes
	c.ResponseTypes = responseTypes
	c.Scopes = scopes
	c.TokenEndpointAuthMethod = authMethod
	c.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Deactivate sets is_active=false. Deactivated clients fail authentication
// and authorization requests immediately; already-issued tokens are
// unaffected here (token revocation is the Token Service's concern).
func (s *Service) Deactivate(ctx context.Context, clientID string) error {
	c, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return ErrClientNotFound
	}
	c.IsActive = false
	c.UpdatedAt = time.Now()
	return s.repo.Update(ctx, c)
}

// ValidateScopes checks each requested scope against the client's allowed
// scopes, returning every requested scope that isn't allowed.
func (s *Service) ValidateScopes(ctx context.Context, clientID string, requested []string) (ScopeValidation, error) {
	c, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return ScopeValidation{}, ErrClientNotFound
	}

	allowed := make(map[string]bool, len(c.Scopes))
	for _, sc := range c.Scopes {
		allowed[sc] = true
	}

	var invalid []string
	for _, req := range requested {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		if !allowed[req] {
			invalid = append(invalid, req)
		}
	}

	return ScopeValidation{Valid: len(invalid) == 0, InvalidScopes: invalid}, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
