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
	"html"
	"net/http"

	"github.com/opentrusty/idp/internal/session"
)

// LoginForm renders the local password login page. It is deliberately
// minimal HTML with no client-side framework: the credential exchange
// happens on a plain POST to the same path.
func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	returnTo := session.SanitizeReturnTo(r.URL.Query().Get("return_to"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html><html><head><title>Sign in</title></head><body>
<form method="POST" action="/login">
<input type="hidden" name="return_to" value="` + html.EscapeString(returnTo) + `">
<label>Email <input type="email" name="email" required></label>
<label>Password <input type="password" name="password" required></label>
<button type="submit">Sign in</button>
</form>
</body></html>`))
}

// Login authenticates the posted credentials, issues a session cookie, and
// redirects to the sanitized return_to — or back to the login form with an
// error on failure.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	email := r.PostForm.Get("email")
	password := r.PostForm.Get("password")
	returnTo := session.SanitizeReturnTo(r.PostForm.Get("return_to"))

	sub, err := h.PasswordAuth.Authenticate(r.Context(), email, password)
	if err != nil {
		// No user existence, wrong-password, or locked distinction in the
		// redirect: all three collapse to the same code so this endpoint
		// can't be used as a user-enumeration oracle.
		http.Redirect(w, r, "/login?return_to="+urlQueryEscape(returnTo)+"&error=invalid_credentials", http.StatusFound)
		return
	}

	token, _, _, err := h.Sessions.Issue(sub)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	http.SetCookie(w, session.CookieAttributes(r, token, h.SessionMaxAge))
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// Logout clears the session cookie and redirects to /login. The
// OIDC-federated logout path is /end_session; this is the local,
// non-protocol logout link.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ClearCookie(r))
	http.Redirect(w, r, "/login", http.StatusFound)
}
