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

package oauth2

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/idp/internal/id"
	"github.com/opentrusty/idp/internal/jose"
)

// signingAlgorithm is the algorithm this provider signs access and ID
// tokens with. Fixed to RS256 per §4.3: "signed by the current
// latest_active(RS256)".
const signingAlgorithm = jose.RS256

// IssueResult is the token endpoint's success response body (minus the
// wire-level JSON field names, which the transport layer applies).
type IssueResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int
	Scope        string
	IDToken      string
	RefreshToken string
}

func (s *Service) audienceFor(clientID string) string {
	if clientID != "" {
		return clientID
	}
	return s.defaultAudience
}

// issueAccessToken signs an access token JWT for sub/clientID/scopes.
func (s *Service) issueAccessToken(sub, clientID string, scopes []string, authTime time.Time) (string, error) {
	key, err := s.keys.LatestActive(signingAlgorithm)
	if err != nil {
		return "", fmt.Errorf("oauth2: no active signing key: %w", err)
	}

	now := time.Now()
	claims := jose.Claims{
		"iss":       s.issuer,
		"sub":       sub,
		"aud":       s.audienceFor(clientID),
		"scope":     strings.Join(scopes, " "),
		"client_id": clientID,
		"iat":       now.Unix(),
		"exp":       now.Add(s.accessTokenTTL).Unix(),
		"jti":       id.NewUUIDv7(),
		"auth_time": authTime.Unix(),
	}

	return jose.Sign(signingAlgorithm, key.KID, claims, key.Private)
}

// issueIDToken signs an ID token JWT, resolving profile claims from the
// user store when the granted scopes include "profile" or "email".
func (s *Service) issueIDToken(ctx context.Context, sub, clientID, nonce, accessToken string, scopes []string, authTime time.Time) (string, error) {
	key, err := s.keys.LatestActive(signingAlgorithm)
	if err != nil {
		return "", fmt.Errorf("oauth2: no active signing key: %w", err)
	}

	atHash, err := jose.AtHash(accessToken, signingAlgorithm)
	if err != nil {
		return "", fmt.Errorf("oauth2: compute at_hash: %w", err)
	}

	now := time.Now()
	claims := jose.Claims{
		"iss":       s.issuer,
		"sub":       sub,
		"aud":       clientID,
		"azp":       clientID,
		"iat":       now.Unix(),
		"exp":       now.Add(s.idTokenTTL).Unix(),
		"auth_time": authTime.Unix(),
		"at_hash":   atHash,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	if hasScope(scopes, "profile") || hasScope(scopes, "email") {
		if acct, err := s.users.FindBySub(ctx, sub); err == nil {
			if hasScope(scopes, "email") {
				claims["email"] = acct.Email
				claims["email_verified"] = acct.EmailVerified
			}
			if hasScope(scopes, "profile") {
				if acct.Profile.Name != "" {
					claims["name"] = acct.Profile.Name
				}
				if acct.Profile.GivenName != "" {
					claims["given_name"] = acct.Profile.GivenName
				}
				if acct.Profile.FamilyName != "" {
					claims["family_name"] = acct.Profile.FamilyName
				}
				if acct.Profile.Picture != "" {
					claims["picture"] = acct.Profile.Picture
				}
			}
		}
	}

	return jose.Sign(signingAlgorithm, key.KID, claims, key.Private)
}

func hasScope(scopes []string, want string) bool {
	for _, sc := range scopes {
		if sc == want {
			return true
		}
	}
	return false
}
