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
	"golang.org/x/oauth2"
)

// ProviderConfig is one external identity provider's wiring: endpoints,
// credentials, scopes, and the parameters needed to validate its tokens.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// AuthURL/TokenURL are the provider's OAuth2 endpoints.
	AuthURL  string
	TokenURL string

	// JWKSURL is set for providers that issue a validatable OIDC ID token
	// (Google, Microsoft). Empty for Facebook/X, which are handled via
	// their profile endpoints instead (§4.7's documented Open Question).
	JWKSURL string

	// Issuer is the expected "iss" claim. AcceptIssuers adds accepted
	// aliases (Google also issues as "accounts.google.com").
	Issuer        string
	AcceptIssuers []string

	// AllowedAlgorithms restricts which JOSE algorithms this provider's ID
	// tokens may be signed with; verification rejects any other "alg"
	// before even attempting a JWKS lookup.
	AllowedAlgorithms []string

	// RequireEmailVerified enforces the provider's "email_verified" claim
	// (Google and Microsoft always include and honor it).
	RequireEmailVerified bool

	// UsesPKCE marks providers (X) whose authorization request and token
	// exchange carry a code_verifier/code_challenge pair.
	UsesPKCE bool

	// ProfileURL is set for providers without an ID token (Facebook Graph
	// /me, X /2/users/me) and is fetched with the access token instead.
	ProfileURL string
}

func (c *ProviderConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
	}
}

// IsOIDC reports whether this provider issues a validatable ID token.
func (c *ProviderConfig) IsOIDC() bool {
	return c.JWKSURL != ""
}

// DefaultGoogleConfig returns the well-known Google OIDC endpoints, leaving
// ClientID/ClientSecret/RedirectURI for the caller to fill from config.
func DefaultGoogleConfig() ProviderConfig {
	return ProviderConfig{
		Name:                 ProviderGoogle,
		Scopes:               []string{"openid", "profile", "email"},
		AuthURL:              "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:             "https://oauth2.googleapis.com/token",
		JWKSURL:              "https://www.googleapis.com/oauth2/v3/certs",
		Issuer:               "https://accounts.google.com",
		AcceptIssuers:        []string{"https://accounts.google.com", "accounts.google.com"},
		AllowedAlgorithms:    []string{"RS256"},
		RequireEmailVerified: true,
	}
}

// DefaultMicrosoftConfig returns the well-known Microsoft (Entra ID) v2.0
// multi-tenant endpoints for tenant. Callers configure a specific tenant id
// or "common"/"organizations"/"consumers".
func DefaultMicrosoftConfig(tenant string) ProviderConfig {
	if tenant == "" {
		tenant = "common"
	}
	issuer := "https://login.microsoftonline.com/" + tenant + "/v2.0"
	return ProviderConfig{
		Name:                 ProviderMicrosoft,
		Scopes:               []string{"openid", "profile", "email"},
		AuthURL:              "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/authorize",
		TokenURL:             "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/token",
		JWKSURL:              "https://login.microsoftonline.com/" + tenant + "/discovery/v2.0/keys",
		Issuer:               issuer,
		AcceptIssuers:        []string{issuer},
		AllowedAlgorithms:    []string{"RS256"},
		RequireEmailVerified: true,
	}
}

// DefaultFacebookConfig returns the Facebook Login + Graph API endpoints.
// Facebook issues no ID token; identity comes from the Graph /me profile
// endpoint fetched with the access token (§4.7's documented Open Question).
func DefaultFacebookConfig() ProviderConfig {
	return ProviderConfig{
		Name:       ProviderFacebook,
		Scopes:     []string{"email", "public_profile"},
		AuthURL:    "https://www.facebook.com/v19.0/dialog/oauth",
		TokenURL:   "https://graph.facebook.com/v19.0/oauth/access_token",
		ProfileURL: "https://graph.facebook.com/me?fields=id,name,email,first_name,last_name,picture",
	}
}

// DefaultXConfig returns X's (Twitter's) OAuth2 + PKCE endpoints. Like
// Facebook, X issues no ID token; identity comes from /2/users/me.
func DefaultXConfig() ProviderConfig {
	return ProviderConfig{
		Name:       ProviderX,
		Scopes:     []string{"tweet.read", "users.read"},
		AuthURL:    "https://twitter.com/i/oauth2/authorize",
		TokenURL:   "https://api.twitter.com/2/oauth2/token",
		ProfileURL: "https://api.twitter.com/2/users/me?user.fields=profile_image_url,name,username",
		UsesPKCE:   true,
	}
}
