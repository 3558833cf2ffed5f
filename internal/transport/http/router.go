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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter builds the complete HTTP surface: discovery and JWKS are
// unauthenticated; /authorize requires a valid session (redirecting to
// /login otherwise); /userinfo requires a bearer access token; the client
// registry requires CSRF protection on its state-changing methods.
func NewRouter(h *Handler, rl *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rl))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.RequireHTTPS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)

	// Authorize checks the session itself, after validating client_id and
	// redirect_uri, so it is not wrapped in RequireSession.
	r.Get("/authorize", h.Authorize)

	r.Post("/token", h.Token)
	r.Post("/revoke", h.Revoke)
	r.Post("/introspect", h.Introspect)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireBearerToken)
		r.Get("/userinfo", h.UserInfo)
		r.Post("/userinfo", h.UserInfo)
	})

	r.Get("/end_session", h.EndSession)

	r.Get("/login", h.LoginForm)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)

	r.Get("/auth/{provider}", h.BeginFederatedAuth)
	r.Get("/auth/{provider}/callback", h.FederationCallback)

	r.Route("/clients", func(r chi.Router) {
		r.Use(h.CSRFMiddleware)
		r.Post("/", h.RegisterClient)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetClient)
			r.Put("/", h.UpdateClient)
			r.Delete("/", h.DeleteClient)
		})
	})

	return r
}
