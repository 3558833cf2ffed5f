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
	"net/url"
	"strings"
	"time"

	"github.com/opentrusty/idp/internal/clients"
	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/oauth2"
	"github.com/opentrusty/idp/internal/session"
)

// oauthErrorCodes, RFC 6749 §5.2 and the extensions this provider's wire
// format uses (RFC 6750 invalid_token, RFC 6749 §4.1.2.1 access_denied).
const (
	errInvalidRequest       = "invalid_request"
	errInvalidClient        = "invalid_client"
	errInvalidGrant         = "invalid_grant"
	errUnauthorizedClient   = "unauthorized_client"
	errUnsupportedGrantType = "unsupported_grant_type"
	errUnsupportedResponse  = "unsupported_response_type"
	errInvalidScope         = "invalid_scope"
	errAccessDenied         = "access_denied"
	errServerError          = "server_error"
)

// writeOAuthError writes an RFC 6749 §5.2 JSON error body with the
// no-store/no-cache headers every token/revoke/introspect response carries.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	body := struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description,omitempty"`
	}{code, description}
	writeJSONBody(w, body)
}

// Authorize implements the §4.5 authorization endpoint. Validation order is
// load-bearing: the first two failures (unknown client, unrecognized
// redirect_uri) render an HTML error page rather than redirect, since no
// verified Location is yet available; every later failure is a 302 to
// redirect_uri carrying error/error_description/state.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if clientID == "" {
		respondHTML(w, http.StatusBadRequest, "invalid_client", "client_id is required")
		return
	}
	client, err := h.Clients.Get(r.Context(), clientID)
	if err != nil {
		respondHTML(w, http.StatusBadRequest, "invalid_client", "unknown or inactive client_id")
		return
	}

	if redirectURI == "" || !client.HasRedirectURI(redirectURI) {
		respondHTML(w, http.StatusBadRequest, "invalid_request", "redirect_uri is missing or not registered for this client")
		return
	}

	redirectError := func(code, description string) {
		redirectOAuthError(w, r, redirectURI, code, description, state)
	}

	responseType := q.Get("response_type")
	if responseType != clients.ResponseTypeCode || !containsStr(client.ResponseTypes, clients.ResponseTypeCode) {
		redirectError(errUnsupportedResponse, "only response_type=code is supported")
		return
	}

	scopes := strings.Fields(q.Get("scope"))
	if !containsStr(scopes, "openid") {
		redirectError(errInvalidScope, "scope must include openid")
		return
	}
	validation, err := h.Clients.ValidateScopes(r.Context(), clientID, scopes)
	if err != nil || !validation.Valid || !allSupportedScopes(scopes, h.ScopesSupported) {
		redirectError(errInvalidScope, "requested scope exceeds client or server capability")
		return
	}

	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	if codeChallengeMethod == "" {
		codeChallengeMethod = oauth2.CodeChallengeMethodS256
	}
	if client.IsPublic() && codeChallenge == "" {
		redirectError(errInvalidRequest, "code_challenge is required for public clients")
		return
	}

	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		redirectToLogin(w, r)
		return
	}
	sess, err := h.Sessions.Verify(cookie.Value)
	if err != nil {
		redirectToLogin(w, r)
		return
	}

	code, err := h.OAuth2.CreateAuthorizationCode(r.Context(), oauth2.NewAuthorizationParams{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		UserSub:             sess.Sub,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Nonce:               q.Get("nonce"),
		AuthTime:            sess.IssuedAt,
	})
	if err != nil {
		redirectError(errServerError, "failed to issue authorization code")
		return
	}

	params := url.Values{"code": {code.Code}}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

func redirectOAuthError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	params := url.Values{"error": {code}}
	if description != "" {
		params.Set("error_description", description)
	}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, r, appendQuery(redirectURI, params), http.StatusFound)
}

// appendQuery merges params onto rawURL's existing query string, correctly
// URL-encoding every value.
func appendQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	existing := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			existing.Set(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String()
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func allSupportedScopes(requested, supported []string) bool {
	supportedSet := make(map[string]bool, len(supported))
	for _, s := range supported {
		supportedSet[s] = true
	}
	for _, s := range requested {
		if !supportedSet[s] {
			return false
		}
	}
	return true
}

// Token implements the §4.6 token endpoint: client authentication
// (HTTP Basic, then client_secret_post, then client_id alone for public
// clients), then dispatch on grant_type.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	client, attemptedBasic, err := h.authenticateClient(r)
	if err != nil {
		if attemptedBasic {
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
		}
		writeOAuthError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case clients.GrantAuthorizationCode:
		h.tokenAuthorizationCode(w, r, client)
	case clients.GrantRefreshToken:
		h.tokenRefresh(w, r, client)
	case clients.GrantClientCredentials:
		h.tokenClientCredentials(w, r, client)
	default:
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedGrantType, "unsupported grant_type")
	}
}

// authenticateClient resolves the caller's client per §4.6's auth order.
// attemptedBasic is true whenever an Authorization: Basic header was
// present, so the caller can attach WWW-Authenticate on failure.
func (h *Handler) authenticateClient(r *http.Request) (client *clients.Client, attemptedBasic bool, err error) {
	if basicUser, basicPass, ok := r.BasicAuth(); ok {
		c, authErr := h.Clients.Authenticate(r.Context(), basicUser, basicPass)
		return c, true, authErr
	}

	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")
	if clientID != "" && clientSecret != "" {
		c, authErr := h.Clients.Authenticate(r.Context(), clientID, clientSecret)
		return c, false, authErr
	}

	if clientID != "" {
		c, authErr := h.Clients.Authenticate(r.Context(), clientID, "")
		if authErr == nil && !c.IsPublic() {
			return nil, false, errors.New("confidential client must present a secret")
		}
		return c, false, authErr
	}

	return nil, false, errors.New("no client credentials presented")
}

func (h *Handler) tokenAuthorizationCode(w http.ResponseWriter, r *http.Request, client *clients.Client) {
	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	verifier := r.PostForm.Get("code_verifier")

	result, err := h.OAuth2.ExchangeAuthorizationCode(r.Context(), client, code, redirectURI, verifier)
	if err != nil {
		writeGrantError(w, err)
		return
	}
	writeTokenResponse(w, result)
}

func (h *Handler) tokenRefresh(w http.ResponseWriter, r *http.Request, client *clients.Client) {
	refreshToken := r.PostForm.Get("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}
	var requestedScopes []string
	if scope := r.PostForm.Get("scope"); scope != "" {
		requestedScopes = strings.Fields(scope)
	}

	result, err := h.OAuth2.RefreshAccessToken(r.Context(), client, refreshToken, requestedScopes)
	if err != nil {
		writeGrantError(w, err)
		return
	}
	writeTokenResponse(w, result)
}

func (h *Handler) tokenClientCredentials(w http.ResponseWriter, r *http.Request, client *clients.Client) {
	var requestedScopes []string
	if scope := r.PostForm.Get("scope"); scope != "" {
		requestedScopes = strings.Fields(scope)
	}

	result, err := h.OAuth2.ClientCredentialsGrant(r.Context(), client, requestedScopes)
	if err != nil {
		writeGrantError(w, err)
		return
	}
	writeTokenResponse(w, result)
}

// writeGrantError maps oauth2 package domain errors onto RFC 6749 §5.2 wire
// codes: unauthorized_client, invalid_scope, or invalid_grant for every
// other error.
func writeGrantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oauth2.ErrUnauthorizedClient):
		writeOAuthError(w, http.StatusBadRequest, errUnauthorizedClient, "client is not registered for this grant type")
	case errors.Is(err, oauth2.ErrScopeNotSubset):
		writeOAuthError(w, http.StatusBadRequest, errInvalidScope, "requested scope exceeds the original grant")
	default:
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "the grant is invalid, expired, or already used")
	}
}

func writeTokenResponse(w http.ResponseWriter, result *oauth2.IssueResult) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	body := map[string]any{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
		"expires_in":   result.ExpiresIn,
		"scope":        result.Scope,
	}
	if result.IDToken != "" {
		body["id_token"] = result.IDToken
	}
	if result.RefreshToken != "" {
		body["refresh_token"] = result.RefreshToken
	}
	writeJSONBody(w, body)
}

// Revoke implements RFC 7009: 200 with an empty JSON body, per §2.2,
// whether or not the token was known. It returns 401 when client
// authentication fails, 400 when the token parameter is missing, and 500
// when the revocation cannot be stored.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	client, attemptedBasic, err := h.authenticateClient(r)
	if err != nil {
		if attemptedBasic {
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
		}
		writeOAuthError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}

	if err := h.OAuth2.Revoke(r.Context(), client, token); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "failed to revoke token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	writeJSONBody(w, map[string]any{})
}

// Introspect implements RFC 7662 for both opaque refresh tokens and
// self-signed access token JWTs. Refresh tokens require the repository
// lookup in h.OAuth2.IntrospectRefreshToken; access tokens are verified
// locally against the active signing keys, the same way RequireBearerToken
// authenticates /userinfo, with no extra JWKS fetch.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	_, attemptedBasic, err := h.authenticateClient(r)
	if err != nil {
		if attemptedBasic {
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
		}
		writeOAuthError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	result, err := h.OAuth2.IntrospectRefreshToken(r.Context(), token)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, errServerError, "introspection failed")
		return
	}

	if result.Active {
		w.WriteHeader(http.StatusOK)
		writeJSONBody(w, map[string]any{
			"active":    true,
			"sub":       result.Sub,
			"client_id": result.ClientID,
			"scope":     result.Scope,
			"aud":       result.Audience,
			"exp":       result.ExpiresAt,
			"iat":       result.IssuedAt,
		})
		return
	}

	claims, err := jose.Verify(token, []jose.Algorithm{jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512}, time.Now(), h.jwtKeyFunc)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		writeJSONBody(w, map[string]any{"active": false})
		return
	}

	w.WriteHeader(http.StatusOK)
	writeJSONBody(w, map[string]any{
		"active":    true,
		"sub":       claims["sub"],
		"client_id": claims["client_id"],
		"scope":     claims["scope"],
		"aud":       claims["aud"],
		"exp":       claims["exp"],
		"iat":       claims["iat"],
	})
}
