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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/observability/logger"
	"github.com/opentrusty/idp/internal/session"
)

// LoggingMiddleware logs the start and end of every request.
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RequireHTTPS implements §4.4's production-mode transport check: outside
// localhost, every request in production must arrive over HTTPS (directly
// or via a trusted X-Forwarded-Proto).
func (h *Handler) RequireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Production && !session.IsSecureRequest(r) && !session.IsLocalhost(r) {
			respondJSON(w, http.StatusForbidden, map[string]string{
				"error":             "invalid_request",
				"error_description": "HTTPS is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession validates the idp_session cookie and attaches its subject
// to the request context, redirecting to /login when absent or invalid.
// The router does not wrap /authorize with it: Authorize runs the same
// session check itself, after its client and redirect_uri validation.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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

		ctx := WithSubject(r.Context(), sess.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.RequestURI()
	http.Redirect(w, r, "/login?return_to="+urlQueryEscape(returnTo), http.StatusFound)
}

// RequireBearerToken implements §4.9's /userinfo authentication: a bearer
// access token, signed by one of the current signing keys, not expired.
func (h *Handler) RequireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			unauthorizedBearer(w, "invalid_token", "missing bearer access token")
			return
		}
		token := strings.TrimPrefix(authz, prefix)

		claims, err := jose.Verify(token, []jose.Algorithm{jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512}, time.Now(), h.jwtKeyFunc)
		if err != nil {
			unauthorizedBearer(w, "invalid_token", err.Error())
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			unauthorizedBearer(w, "invalid_token", "token missing sub claim")
			return
		}

		ctx := WithSubject(r.Context(), sub)
		ctx = withClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorizedBearer(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+description+`"`)
	respondJSON(w, http.StatusUnauthorized, map[string]string{"error": code, "error_description": description})
}

func (h *Handler) jwtKeyFunc(alg jose.Algorithm, kid string) (interface{}, error) {
	key, err := h.Keys.ActiveKeypair(kid)
	if err != nil {
		return nil, err
	}
	return key.Public, nil
}

// CSRFMiddleware requires a non-empty X-CSRF-Token header on state-changing
// requests to the client registry API.
func (h *Handler) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions || r.Method == http.MethodTrace {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("X-CSRF-Token") == "" {
			slog.WarnContext(r.Context(), "missing CSRF token header", logger.Method(r.Method), logger.Path(r.URL.Path))
			respondError(w, http.StatusForbidden, "CSRF protection: X-CSRF-Token header is required for state-changing operations")
			return
		}

		next.ServeHTTP(w, r)
	})
}
