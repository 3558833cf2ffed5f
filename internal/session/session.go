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

// Package session issues and verifies the IdP's own login session: a
// short-lived signed JWT carrying only {sub, iat, exp}, transported as an
// HttpOnly cookie. It also owns the secure-request and open-redirect checks
// that gate cookie attributes and the login return_to parameter.
package session

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/opentrusty/idp/internal/jose"
)

var (
	ErrSessionInvalid = errors.New("session: invalid or expired")
)

// CookieName is the name of the IdP session cookie.
const CookieName = "idp_session"

// Session is the decoded content of a verified session token.
type Session struct {
	Sub       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config controls token lifetime and signing.
type Config struct {
	// Algorithm is HS256 by default; RS256 is supported for deployments
	// that want session tokens verifiable by other services without
	// sharing the HMAC secret.
	Algorithm jose.Algorithm
	// KID identifies the signing key when Algorithm is asymmetric. Unused
	// for HS256.
	KID string
	// Key is the HMAC secret (HS256) or private/public key (RS256).
	SigningKey interface{}
	VerifyKey  interface{}
	TTL        time.Duration
}

// Issuer mints and verifies session tokens. It is the narrow interface
// handlers depend on, so packages that only need to check "is this request
// logged in" never import the full session package — breaking the cyclic
// dependency where a shared auth-utils scope both read session config and
// wrote session cookies.
type Issuer interface {
	Issue(sub string) (token string, issuedAt, expiresAt time.Time, err error)
	Verify(token string) (*Session, error)
}

// Manager is the default Issuer implementation.
type Manager struct {
	cfg Config
}

// NewManager constructs a session Manager. cfg.TTL defaults to 900s (15m)
// per this provider's default session lifetime when zero.
func NewManager(cfg Config) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = jose.HS256
	}
	return &Manager{cfg: cfg}
}

// Issue signs a new session token for sub.
func (m *Manager) Issue(sub string) (string, time.Time, time.Time, error) {
	now := time.Now()
	exp := now.Add(m.cfg.TTL)
	claims := jose.Claims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	token, err := jose.Sign(m.cfg.Algorithm, m.cfg.KID, claims, m.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	return token, now, exp, nil
}

// Verify parses and validates a session token, returning ErrSessionInvalid
// on any failure (expired, malformed, wrong algorithm, bad signature) —
// callers never need to distinguish the cause, only redirect to login.
func (m *Manager) Verify(token string) (*Session, error) {
	claims, err := jose.Verify(token, []jose.Algorithm{m.cfg.Algorithm}, time.Now(), func(alg jose.Algorithm, kid string) (interface{}, error) {
		return m.cfg.VerifyKey, nil
	})
	if err != nil {
		return nil, ErrSessionInvalid
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrSessionInvalid
	}
	iat, ok := numericClaim(claims, "iat")
	if !ok {
		return nil, ErrSessionInvalid
	}
	exp, ok := numericClaim(claims, "exp")
	if !ok {
		return nil, ErrSessionInvalid
	}

	return &Session{
		Sub:       sub,
		IssuedAt:  time.Unix(iat, 0),
		ExpiresAt: time.Unix(exp, 0),
	}, nil
}

// numericClaim reads a JSON-number claim decoded by encoding/json as
// float64. jose.Verify already rejects expired/not-yet-valid tokens via
// exp/nbf before returning, so this is only reached for well-formed claims.
func numericClaim(claims jose.Claims, name string) (int64, bool) {
	v, ok := claims[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// IsSecureRequest reports whether r arrived over HTTPS, either directly or
// via a trusted reverse proxy's X-Forwarded-Proto header.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// IsLocalhost reports whether r's Host is a loopback address, used to
// exempt local development from the production HTTPS-required check.
func IsLocalhost(r *http.Request) bool {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	default:
		return false
	}
}

// SanitizeReturnTo is the complete open-redirect guard on the login form's
// return_to parameter: accept it only if, after normalizing backslashes to
// forward slashes, it begins with a single "/" and not "//" (which a
// browser would treat as protocol-relative and follow off-site).
func SanitizeReturnTo(raw string) string {
	normalized := strings.ReplaceAll(raw, "\\", "/")
	if strings.HasPrefix(normalized, "/") && !strings.HasPrefix(normalized, "//") {
		return normalized
	}
	return "/"
}

// CookieAttributes builds the Set-Cookie attributes for token per §4.4:
// Path=/; HttpOnly; SameSite=Lax; Max-Age=<ttl>, plus Secure iff the
// request is HTTPS. A negative maxAge clears the cookie (logout).
func CookieAttributes(r *http.Request, token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Secure:   IsSecureRequest(r),
	}
}

// ClearCookie returns the Set-Cookie value that removes the session cookie,
// used by the end-session endpoint.
func ClearCookie(r *http.Request) *http.Cookie {
	return CookieAttributes(r, "", -1)
}
