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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/opentrusty/idp/internal/clients"
	"github.com/opentrusty/idp/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confidentialRegisterInput() clients.RegisterInput {
	return clients.RegisterInput{
		Name:                    "Example RP",
		RedirectURIs:            []string{"https://example.com/callback"},
		GrantTypes:              []string{clients.GrantAuthorizationCode, clients.GrantRefreshToken, clients.GrantClientCredentials},
		ResponseTypes:           []string{clients.ResponseTypeCode},
		Scopes:                  []string{"openid", "profile", "offline_access"},
		TokenEndpointAuthMethod: clients.AuthMethodBasic,
	}
}

// TestPurpose: Verifies the full authorization_code flow at the handler
// level — a logged-in session completing /authorize is redirected with a
// code, and exchanging it at /token returns an access_token and id_token.
// Scope: Handler Test
// Security: Authorization Code Issuance / Exchange
// Expected: Authorize responds 302 with a code query param; Token responds
// 200 with a non-empty access_token and id_token.
func TestHandler_AuthorizeThenToken_IssuesTokens(t *testing.T) {
	h, _ := testHandler(t)

	registerResult, err := h.Clients.Register(context.Background(), confidentialRegisterInput())
	require.NoError(t, err)

	sessionToken, _, _, err := h.Sessions.Issue("user-sub-1")
	require.NoError(t, err)

	authorizeURL := "/authorize?" + url.Values{
		"response_type": {"code"},
		"client_id":     {registerResult.ID},
		"redirect_uri":  {"https://example.com/callback"},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
	}.Encode()

	req := httptest.NewRequest(http.MethodGet, authorizeURL, nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sessionToken})
	w := httptest.NewRecorder()

	h.Authorize(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://example.com/callback"},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/token", nil)
	tokenReq.PostForm = form
	tokenReq.SetBasicAuth(registerResult.ID, registerResult.Secret)
	tokenW := httptest.NewRecorder()

	h.Token(tokenW, tokenReq)

	require.Equal(t, http.StatusOK, tokenW.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(tokenW.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["id_token"])
	assert.Equal(t, "Bearer", body["token_type"])
}

// TestPurpose: Verifies that /authorize rejects a client_id that belongs to
// a deactivated client the same way it rejects an unknown one.
// Scope: Handler Test
// Security: Client Deactivation
// Expected: 400 invalid_client HTML page, not a redirect.
func TestHandler_Authorize_RejectsDeactivatedClient(t *testing.T) {
	h, _ := testHandler(t)

	registerResult, err := h.Clients.Register(context.Background(), confidentialRegisterInput())
	require.NoError(t, err)
	require.NoError(t, h.Clients.Deactivate(context.Background(), registerResult.ID))

	authorizeURL := "/authorize?" + url.Values{
		"response_type": {"code"},
		"client_id":     {registerResult.ID},
		"redirect_uri":  {"https://example.com/callback"},
		"scope":         {"openid"},
	}.Encode()

	req := httptest.NewRequest(http.MethodGet, authorizeURL, nil)
	w := httptest.NewRecorder()

	h.Authorize(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
