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

// Package clients implements the relying-party client registry: register,
// fetch, update, deactivate, authenticate, and validate requested scopes
// against a client's allowed set.
package clients

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrClientNotFound = errors.New("clients: not found")
	ErrClientInactive = errors.New("clients: inactive")
	ErrInvalidClient  = errors.New("clients: invalid client credentials")
	ErrValidation     = errors.New("clients: validation failed")
)

// Auth methods a client may register with.
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
	AuthMethodNone  = "none"
)

var supportedAuthMethods = map[string]bool{
	AuthMethodBasic: true,
	AuthMethodPost:  true,
	AuthMethodNone:  true,
}

// Grant types a client may be registered for.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

var supportedGrantTypes = map[string]bool{
	GrantAuthorizationCode: true,
	GrantRefreshToken:      true,
	GrantClientCredentials: true,
}

// Response types a client may be registered for.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

var supportedResponseTypes = map[string]bool{
	ResponseTypeCode:  true,
	ResponseTypeToken: true,
}

// SupportedScopes is the server-wide set of scopes a client's allowed
// scopes are validated against at registration time.
var SupportedScopes = map[string]bool{
	"openid":         true,
	"profile":        true,
	"email":          true,
	"offline_access": true,
	"roles":          true,
}

// Client is a registered relying party.
type Client struct {
	ID                      string
	Name                    string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scopes                  []string
	TokenEndpointAuthMethod string
	SecretHash              string // empty iff TokenEndpointAuthMethod == none
	IsActive                bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// IsPublic reports whether the client has no secret and therefore must use
// PKCE on every authorization_code exchange.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// HasRedirectURI reports an exact match against the client's registered
// redirect URIs — no prefix or wildcard matching is performed.
func (c *Client) HasRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the client is registered for grantType.
func (c *Client) HasGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// ClientWithSecret is returned exactly once, from Register, carrying the
// plaintext secret that is never stored or returned again.
type ClientWithSecret struct {
	Client
	Secret string // empty for public clients
}

// RegisterInput describes a new client registration request.
type RegisterInput struct {
	Name                    string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scopes                  []string
	TokenEndpointAuthMethod string
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name                    *string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scopes                  []string
	TokenEndpointAuthMethod *string
}

// ScopeValidation is the result of validating a set of requested scopes
// against a client's allowed scopes.
type ScopeValidation struct {
	Valid         bool
	InvalidScopes []string
}

// Repository persists clients.
type Repository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id string) (*Client, error)
	Update(ctx context.Context, c *Client) error
}

func validateRegistration(name string, redirectURIs, grantTypes, responseTypes, scopes []string, authMethod string) error {
	if strings.TrimSpace(name) == "" {
		return errors.Join(ErrValidation, errors.New("name must not be empty"))
	}
	if len(redirectURIs) == 0 {
		return errors.Join(ErrValidation, errors.New("redirect_uris must not be empty"))
	}
	for _, raw := range redirectURIs {
		u, err := url.ParseRequestURI(raw)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Join(ErrValidation, errors.New("redirect_uris must be absolute http(s) URIs: "+raw))
		}
	}
	if len(grantTypes) == 0 {
		return errors.Join(ErrValidation, errors.New("grant_types must not be empty"))
	}
	for _, g := range grantTypes {
		if !supportedGrantTypes[g] {
			return errors.Join(ErrValidation, errors.New("unsupported grant_type: "+g))
		}
	}
	if len(responseTypes) == 0 {
		return errors.Join(ErrValidation, errors.New("response_types must not be empty"))
	}
	for _, r := range responseTypes {
		if !supportedResponseTypes[r] {
			return errors.Join(ErrValidation, errors.New("unsupported response_type: "+r))
		}
	}
	if len(scopes) == 0 {
		return errors.Join(ErrValidation, errors.New("scopes must not be empty"))
	}
	for _, s := range scopes {
		if !SupportedScopes[s] {
			return errors.Join(ErrValidation, errors.New("unsupported scope: "+s))
		}
	}
	if !supportedAuthMethods[authMethod] {
		return errors.Join(ErrValidation, errors.New("unsupported token_endpoint_auth_method: "+authMethod))
	}
	return nil
}
