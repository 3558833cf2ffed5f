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

	"github.com/opentrusty/idp/internal/jose"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	claimsKey  contextKey = "claims"
)

// WithSubject attaches the authenticated subject — the account sub behind a
// valid session cookie, or the client_id/sub carried by a bearer access
// token — to ctx.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey, sub)
}

// GetSubject retrieves the authenticated subject from context, or "" if the
// request carried no valid session or access token.
func GetSubject(ctx context.Context) string {
	if val, ok := ctx.Value(subjectKey).(string); ok {
		return val
	}
	return ""
}

// withClaims attaches a verified access token's claims to ctx, so /userinfo
// can read its scope without re-parsing the bearer token.
func withClaims(ctx context.Context, claims jose.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// getClaims retrieves the access token claims attached by RequireBearerToken.
func getClaims(ctx context.Context) jose.Claims {
	if val, ok := ctx.Value(claimsKey).(jose.Claims); ok {
		return val
	}
	return nil
}
