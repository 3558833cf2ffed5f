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
	"errors"
	"net/http"
	"time"

	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/session"
)

// Discovery implements GET /.well-known/openid-configuration (§4.9).
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"issuer":                                h.Issuer,
		"authorization_endpoint":                h.Issuer + "/authorize",
		"token_endpoint":                        h.Issuer + "/token",
		"userinfo_endpoint":                     h.Issuer + "/userinfo",
		"jwks_uri":                              h.Issuer + "/.well-known/jwks.json",
		"revocation_endpoint":                   h.Issuer + "/revoke",
		"introspection_endpoint":                h.Issuer + "/introspect",
		"end_session_endpoint":                  h.Issuer + "/end_session",
		"response_types_supported":              h.ResponseTypesSupported,
		"grant_types_supported":                 h.GrantTypesSupported,
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": h.IDTokenSigningAlgValues,
		"scopes_supported":                      h.ScopesSupported,
		"token_endpoint_auth_methods_supported": h.TokenEndpointAuthMethods,
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"claims_supported":                      h.ClaimsSupported,
	}
	respondJSON(w, http.StatusOK, doc)
}

// JWKS implements GET /.well-known/jwks.json.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Keys.JWKS())
}

// UserInfo implements GET/POST /userinfo (§4.9): bearer-token gated, claims
// scoped to what the token's scope grants.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	sub := GetSubject(r.Context())
	if sub == "" {
		unauthorizedBearer(w, "invalid_token", "missing or invalid access token")
		return
	}
	claims := getClaims(r.Context())
	scope, _ := claims["scope"].(string)

	acct, err := h.Users.FindBySub(r.Context(), sub)
	if err != nil {
		unauthorizedBearer(w, "invalid_token", "subject no longer exists")
		return
	}

	out := map[string]any{"sub": sub}
	if containsStr(splitScope(scope), "email") {
		out["email"] = acct.Email
		out["email_verified"] = acct.EmailVerified
	}
	if containsStr(splitScope(scope), "profile") {
		if acct.Profile.Name != "" {
			out["name"] = acct.Profile.Name
		}
		if acct.Profile.GivenName != "" {
			out["given_name"] = acct.Profile.GivenName
		}
		if acct.Profile.FamilyName != "" {
			out["family_name"] = acct.Profile.FamilyName
		}
		if acct.Profile.Picture != "" {
			out["picture"] = acct.Profile.Picture
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func splitScope(scope string) []string {
	var out []string
	field := ""
	for _, r := range scope + " " {
		if r == ' ' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	return out
}

// EndSession implements GET /end_session (§4.10): the session cookie is
// always cleared; the redirect target depends on whether a
// post_logout_redirect_uri was supplied and, if so, whether id_token_hint
// validates against it.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ClearCookie(r))

	q := r.URL.Query()
	postLogoutURI := q.Get("post_logout_redirect_uri")
	idTokenHint := q.Get("id_token_hint")
	state := q.Get("state")

	loginURL := h.Issuer + "/login"

	if postLogoutURI == "" {
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	if idTokenHint == "" {
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	claims, err := h.parseIDTokenHint(idTokenHint)
	if err != nil {
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	clientID, _ := claims["azp"].(string)
	if clientID == "" {
		clientID, _ = claims["aud"].(string)
	}
	if clientID == "" {
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	client, err := h.Clients.Get(r.Context(), clientID)
	if err != nil || !client.HasRedirectURI(postLogoutURI) {
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	target := postLogoutURI
	if state != "" {
		target = appendQuery(target, map[string][]string{"state": {state}})
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// parseIDTokenHint verifies id_token_hint's signature against this
// provider's own keys and checks its issuer, since only tokens this
// provider itself minted can legitimately hint at a client_id/audience.
func (h *Handler) parseIDTokenHint(idToken string) (jose.Claims, error) {
	claims, err := jose.Verify(idToken, []jose.Algorithm{jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512}, time.Now(), h.jwtKeyFunc)
	if err != nil {
		return nil, err
	}
	iss, _ := claims["iss"].(string)
	if iss != h.Issuer {
		return nil, errors.New("id_token_hint: issuer mismatch")
	}
	return claims, nil
}
