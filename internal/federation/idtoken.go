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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/idp/internal/jose"
)

// idTokenHeader is the subset of a JOSE header this validator inspects
// before a full jose.Verify: it needs "kid" to pick the provider's key out
// of a multi-key JWKS document.
type idTokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// idTokenClaims is the subset of an OIDC ID token's payload this provider
// consumes to build a ProviderUserInfo.
type idTokenClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// validateIDToken implements the ID token checks of §4.7 step 3: a present
// "kid", a signature verified against the provider's own JWKS restricted to
// cfg.AllowedAlgorithms, an "iss" matching the provider's accepted issuers,
// and an "aud" matching our client_id. email_verified is enforced only when
// cfg.RequireEmailVerified is set.
func (c *Client) validateIDToken(ctx context.Context, cfg *ProviderConfig, idToken string) (*ProviderUserInfo, error) {
	header, err := decodeIDTokenHeader(idToken)
	if err != nil {
		return nil, err
	}
	if header.Kid == "" {
		return nil, fmt.Errorf("%w: %s ID token missing kid in header", ErrInvalidIDToken, displayName(cfg.Name))
	}

	allowed := make([]jose.Algorithm, 0, len(cfg.AllowedAlgorithms))
	for _, a := range cfg.AllowedAlgorithms {
		allowed = append(allowed, jose.Algorithm(a))
	}

	claims, err := jose.Verify(idToken, allowed, time.Now(), func(alg jose.Algorithm, kid string) (interface{}, error) {
		return c.jwks.Key(ctx, cfg.JWKSURL, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIDToken, err)
	}

	iss, _ := claims["iss"].(string)
	if !issuerAccepted(iss, cfg) {
		return nil, errors.New("Invalid token issuer")
	}

	aud, err := audienceClaim(claims)
	if err != nil {
		return nil, err
	}
	if aud != cfg.ClientID {
		return nil, errors.New("Invalid token audience")
	}

	claimsJSON, err := json.Marshal(map[string]interface{}(claims))
	if err != nil {
		return nil, fmt.Errorf("%w: re-encode claims: %v", ErrInvalidIDToken, err)
	}
	var parsed idTokenClaims
	if err := json.Unmarshal(claimsJSON, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrInvalidIDToken, err)
	}
	if parsed.Sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidIDToken)
	}
	if cfg.RequireEmailVerified && parsed.Email != "" && !parsed.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified by provider", ErrInvalidIDToken)
	}

	return &ProviderUserInfo{
		Provider:      cfg.Name,
		Sub:           parsed.Sub,
		Email:         parsed.Email,
		EmailVerified: parsed.EmailVerified,
		Name:          parsed.Name,
		GivenName:     parsed.GivenName,
		FamilyName:    parsed.FamilyName,
		Picture:       parsed.Picture,
	}, nil
}

func decodeIDTokenHeader(idToken string) (*idTokenHeader, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed id_token", ErrInvalidIDToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header is not valid base64url: %v", ErrInvalidIDToken, err)
	}
	var header idTokenHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not valid JSON: %v", ErrInvalidIDToken, err)
	}
	return &header, nil
}

// displayName capitalizes a provider name ("google" -> "Google") for
// human-facing error text; ProviderX ("x") -> "X".
func displayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// issuerAccepted checks iss against cfg.Issuer and cfg.AcceptIssuers, since
// Google issues tokens with the bare "accounts.google.com" as well as the
// canonical "https://accounts.google.com".
func issuerAccepted(iss string, cfg *ProviderConfig) bool {
	if iss == "" {
		return false
	}
	if iss == cfg.Issuer {
		return true
	}
	for _, accepted := range cfg.AcceptIssuers {
		if iss == accepted {
			return true
		}
	}
	return false
}

// audienceClaim reads "aud" as either a single string or a single-element
// array, both valid JSON encodings of an ID token audience.
func audienceClaim(claims jose.Claims) (string, error) {
	switch v := claims["aud"].(type) {
	case string:
		return v, nil
	case []interface{}:
		if len(v) == 1 {
			if s, ok := v[0].(string); ok {
				return s, nil
			}
		}
		return "", errors.New("Invalid token audience")
	default:
		return "", errors.New("Invalid token audience")
	}
}
