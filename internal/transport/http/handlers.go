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

// @title OpenTrusty Identity Provider API
// @version 1.0.0
// @description OpenID Connect / OAuth2 Identity Provider
// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// Package http implements the HTTP transport for the identity provider:
// the OIDC/OAuth2 protocol endpoints, the client registry API, the
// federation redirect/callback pair, and the local login form. It
// translates wire requests into calls against internal/oauth2,
// internal/clients, internal/federation, internal/account and
// internal/session, and translates their domain errors back into the wire
// formats each endpoint's RFC specifies.
package http

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/audit"
	"github.com/opentrusty/idp/internal/clients"
	"github.com/opentrusty/idp/internal/federation"
	"github.com/opentrusty/idp/internal/keys"
	"github.com/opentrusty/idp/internal/oauth2"
	"github.com/opentrusty/idp/internal/session"
)

// Handler holds every collaborator the HTTP endpoints dispatch to.
type Handler struct {
	Clients      *clients.Service
	OAuth2       *oauth2.Service
	Federation   *federation.Client
	Keys         *keys.Manager
	Sessions     session.Issuer
	PasswordAuth account.PasswordAuthenticator
	Users        account.UserStore
	AuditLogger  audit.Logger

	Issuer        string
	Production    bool
	SessionMaxAge int

	ScopesSupported          []string
	GrantTypesSupported      []string
	ResponseTypesSupported   []string
	TokenEndpointAuthMethods []string
	IDTokenSigningAlgValues  []string
	ClaimsSupported          []string
}

// NewHandler wires a Handler from its collaborators and the discovery
// metadata constants §4.9 requires advertising.
func NewHandler(
	clientsSvc *clients.Service,
	oauth2Svc *oauth2.Service,
	federationClient *federation.Client,
	keyManager *keys.Manager,
	sessions session.Issuer,
	passwordAuth account.PasswordAuthenticator,
	users account.UserStore,
	auditLogger audit.Logger,
	issuer string,
	production bool,
	sessionMaxAge int,
) *Handler {
	return &Handler{
		Clients:       clientsSvc,
		OAuth2:        oauth2Svc,
		Federation:    federationClient,
		Keys:          keyManager,
		Sessions:      sessions,
		PasswordAuth:  passwordAuth,
		Users:         users,
		AuditLogger:   auditLogger,
		Issuer:        issuer,
		Production:    production,
		SessionMaxAge: sessionMaxAge,

		ScopesSupported:          []string{"openid", "profile", "email", "offline_access"},
		GrantTypesSupported:      []string{clients.GrantAuthorizationCode, clients.GrantRefreshToken, clients.GrantClientCredentials},
		ResponseTypesSupported:   []string{clients.ResponseTypeCode},
		TokenEndpointAuthMethods: []string{clients.AuthMethodBasic, clients.AuthMethodPost, clients.AuthMethodNone},
		IDTokenSigningAlgValues:  []string{"RS256", "ES256"},
		ClaimsSupported:          []string{"sub", "iss", "aud", "exp", "iat", "email", "email_verified", "name", "given_name", "family_name", "picture"},
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeJSONBody encodes data onto a response whose status and headers have
// already been written.
func writeJSONBody(w http.ResponseWriter, data any) {
	json.NewEncoder(w).Encode(data)
}

// respondHTML renders a minimal, dependency-free error page for the two
// pre-redirect-validation failures of §4.5 (unknown client_id, unrecognized
// redirect_uri) where no safe Location is available to carry the error.
func respondHTML(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte("<!DOCTYPE html><html><head><title>" + title + "</title></head><body><h1>" + title + "</h1><p>" + message + "</p></body></html>"))
}

func urlQueryEscape(s string) string {
	return url.QueryEscape(s)
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
