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

	"github.com/go-chi/chi/v5"
	"github.com/opentrusty/idp/internal/federation"
	"github.com/opentrusty/idp/internal/session"
)

// BeginFederatedAuth implements GET /auth/{provider} (§4.7 step 1).
func (h *Handler) BeginFederatedAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	returnTo := session.SanitizeReturnTo(r.URL.Query().Get("return_to"))

	authURL, err := h.Federation.BeginAuth(r.Context(), provider, returnTo)
	if err != nil {
		if errors.Is(err, federation.ErrProviderNotConfigured) {
			respondError(w, http.StatusServiceUnavailable, "provider not configured")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to start federated login")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// FederationCallback implements GET /auth/{provider}/callback (§4.7 steps
// 2-5): consumes the CSRF state, exchanges the code, validates the external
// identity, links or creates the local account, and sets this provider's own
// session cookie before redirecting to the original return_to.
func (h *Handler) FederationCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	result, err := h.Federation.HandleCallback(r.Context(), provider, q.Get("code"), q.Get("state"), q.Get("error"))
	if err != nil {
		respondError(w, http.StatusBadRequest, federationErrorMessage(err))
		return
	}

	token, _, _, err := h.Sessions.Issue(result.Account.Sub)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	http.SetCookie(w, session.CookieAttributes(r, token, h.SessionMaxAge))
	returnTo := session.SanitizeReturnTo(result.ReturnTo)
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func federationErrorMessage(err error) string {
	switch {
	case errors.Is(err, federation.ErrStateNotFound), errors.Is(err, federation.ErrStateExpired):
		return "login attempt expired or was already used"
	case errors.Is(err, federation.ErrCallbackError):
		return "provider reported an authorization error"
	case errors.Is(err, federation.ErrTokenExchangeFailed):
		return "failed to exchange authorization code"
	case errors.Is(err, federation.ErrNoIDToken), errors.Is(err, federation.ErrInvalidIDToken):
		return "failed to validate provider identity"
	case errors.Is(err, federation.ErrProfileFetchFailed):
		return "failed to fetch provider profile"
	default:
		return "federated login failed"
	}
}
