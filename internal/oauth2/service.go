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

package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/audit"
	"github.com/opentrusty/idp/internal/clients"
	"github.com/opentrusty/idp/internal/id"
	"github.com/opentrusty/idp/internal/keys"
)

const (
	codeEntropyBytes    = 18 // 144 bits, above the 128-bit floor
	refreshEntropyBytes = 32 // 256 bits
)

// Metrics receives the token service's counters. Implemented by
// internal/observability/metrics.Meter; nil-safe no-op when not supplied.
type Metrics interface {
	RecordTokenIssued(ctx context.Context, grantType string)
	RecordCodeConsumed(ctx context.Context)
}

// Service is the token service: authorization codes, refresh rotation,
// client_credentials, revocation, and introspection.
type Service struct {
	codes         AuthorizationCodeRepository
	refreshTokens RefreshTokenRepository
	keys          *keys.Manager
	users         account.UserStore
	auditLogger   audit.Logger
	metrics       Metrics

	issuer          string
	defaultAudience string
	accessTokenTTL  time.Duration
	idTokenTTL      time.Duration
	refreshTokenTTL time.Duration
	codeTTL         time.Duration
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithMetrics attaches a Metrics recorder to the service.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func (s *Service) recordTokenIssued(ctx context.Context, grantType string) {
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(ctx, grantType)
	}
}

func (s *Service) recordCodeConsumed(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.RecordCodeConsumed(ctx)
	}
}

// Config carries the token lifetimes and issuer identity the service needs;
// all are spec defaults unless overridden by deployment configuration.
type Config struct {
	Issuer          string
	DefaultAudience string
	AccessTokenTTL  time.Duration
	IDTokenTTL      time.Duration
	RefreshTokenTTL time.Duration
	CodeTTL         time.Duration
}

// NewService wires a token service from its repositories and collaborators.
func NewService(
	codes AuthorizationCodeRepository,
	refreshTokens RefreshTokenRepository,
	keyManager *keys.Manager,
	users account.UserStore,
	auditLogger audit.Logger,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = 60 * time.Second
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 900 * time.Second
	}
	if cfg.IDTokenTTL == 0 {
		cfg.IDTokenTTL = 900 * time.Second
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	s := &Service{
		codes:           codes,
		refreshTokens:   refreshTokens,
		keys:            keyManager,
		users:           users,
		auditLogger:     auditLogger,
		issuer:          cfg.Issuer,
		defaultAudience: cfg.DefaultAudience,
		accessTokenTTL:  cfg.AccessTokenTTL,
		idTokenTTL:      cfg.IDTokenTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
		codeTTL:         cfg.CodeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAuthorizationParams describes a code to mint from the authorization
// endpoint, after every §4.5 validation step has already passed.
type NewAuthorizationParams struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	UserSub             string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	AuthTime            time.Time
}

// CreateAuthorizationCode mints a fresh authorization code that expires
// after the configured CodeTTL (60 seconds by default).
func (s *Service) CreateAuthorizationCode(ctx context.Context, p NewAuthorizationParams) (*AuthorizationCode, error) {
	now := time.Now()
	code := &AuthorizationCode{
		Code:                id.NewOpaqueToken(codeEntropyBytes),
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		Scopes:              p.Scopes,
		UserSub:             p.UserSub,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Nonce:               p.Nonce,
		AuthTime:            p.AuthTime,
		ExpiresAt:           now.Add(s.codeTTL),
		CreatedAt:           now,
	}
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// ExchangeAuthorizationCode implements the authorization_code grant (§4.6).
// client must already be authenticated by the caller (the token endpoint
// handler, via clients.Service.Authenticate).
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, client *clients.Client, presentedCode, redirectURI, codeVerifier string) (*IssueResult, error) {
	if !client.HasGrantType(clients.GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient
	}

	code, err := s.codes.Consume(ctx, presentedCode)
	if err != nil {
		return nil, err
	}
	s.recordCodeConsumed(ctx)
	if code.Expired(time.Now()) {
		return nil, ErrCodeExpired
	}
	if code.ClientID != client.ID {
		return nil, ErrCodeClientMismatch
	}
	if code.RedirectURI != redirectURI {
		return nil, ErrRedirectURIMismatch
	}

	if code.CodeChallenge != "" {
		if codeVerifier == "" {
			return nil, ErrPKCERequired
		}
		if !verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, codeVerifier) {
			return nil, ErrPKCEFailed
		}
	} else if client.IsPublic() {
		// Public clients are required to present a challenge at
		// authorization time (enforced by the authorization endpoint);
		// reaching here with none means the code was minted incorrectly.
		return nil, ErrPKCERequired
	}

	rawAccess, err := s.issueAccessToken(code.UserSub, client.ID, code.Scopes, code.AuthTime)
	if err != nil {
		return nil, err
	}

	result := &IssueResult{
		AccessToken: rawAccess,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.accessTokenTTL.Seconds()),
		Scope:       joinScopes(code.Scopes),
	}

	if hasScope(code.Scopes, "openid") {
		idToken, err := s.issueIDToken(ctx, code.UserSub, client.ID, code.Nonce, rawAccess, code.Scopes, code.AuthTime)
		if err != nil {
			return nil, err
		}
		result.IDToken = idToken
	}

	if hasScope(code.Scopes, "offline_access") && client.HasGrantType(clients.GrantRefreshToken) {
		rt, raw := s.newRefreshToken(id.NewUUIDv7(), client.ID, code.UserSub, code.Scopes, code.AuthTime)
		if err := s.refreshTokens.Create(ctx, rt); err != nil {
			return nil, err
		}
		result.RefreshToken = raw
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  code.UserSub,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{
			audit.AttrClientID:  client.ID,
			audit.AttrGrantType: clients.GrantAuthorizationCode,
		},
	})
	s.recordTokenIssued(ctx, clients.GrantAuthorizationCode)

	return result, nil
}

// RefreshAccessToken implements the refresh_token grant (§4.3 rotation).
func (s *Service) RefreshAccessToken(ctx context.Context, client *clients.Client, presentedToken string, requestedScopes []string) (*IssueResult, error) {
	if !client.HasGrantType(clients.GrantRefreshToken) {
		return nil, ErrUnauthorizedClient
	}

	presentedHash := hashOpaqueToken(presentedToken)
	rt, err := s.refreshTokens.GetByHash(ctx, presentedHash)
	if err != nil {
		return nil, ErrRefreshTokenNotFound
	}
	if rt.ClientID != client.ID {
		return nil, ErrRefreshClientMismatch
	}

	if rt.Revoked {
		// Replay: this token was already rotated away or revoked. Burn the
		// entire chain so every live descendant stops working too.
		_ = s.refreshTokens.RevokeChain(ctx, rt.ChainID)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTokenRevoked,
			ActorID:  rt.UserSub,
			Resource: audit.ResourceToken,
			Metadata: map[string]any{
				audit.AttrClientID: client.ID,
				audit.AttrReason:   "refresh_token_replay",
			},
		})
		return nil, ErrRefreshTokenReplay
	}
	if rt.Expired(time.Now()) {
		return nil, ErrRefreshTokenExpired
	}

	scopes := rt.Scopes
	if len(requestedScopes) > 0 {
		if !isSubset(requestedScopes, rt.Scopes) {
			return nil, ErrScopeNotSubset
		}
		scopes = requestedScopes
	}

	next, rawNext := s.newRefreshToken(rt.ChainID, client.ID, rt.UserSub, scopes, rt.AuthTime)

	applied, err := s.refreshTokens.Rotate(ctx, presentedHash, next)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Concurrent rotation raced us: the presented token is now
		// revoked from the other request's perspective too. Treat as replay.
		_ = s.refreshTokens.RevokeChain(ctx, rt.ChainID)
		return nil, ErrRefreshTokenReplay
	}

	rawAccess, err := s.issueAccessToken(rt.UserSub, client.ID, scopes, rt.AuthTime)
	if err != nil {
		return nil, err
	}

	result := &IssueResult{
		AccessToken:  rawAccess,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
		Scope:        joinScopes(scopes),
		RefreshToken: rawNext,
	}

	if hasScope(scopes, "openid") {
		idToken, err := s.issueIDToken(ctx, rt.UserSub, client.ID, "", rawAccess, scopes, rt.AuthTime)
		if err != nil {
			return nil, err
		}
		result.IDToken = idToken
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  rt.UserSub,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{
			audit.AttrClientID:  client.ID,
			audit.AttrGrantType: clients.GrantRefreshToken,
		},
	})
	s.recordTokenIssued(ctx, clients.GrantRefreshToken)

	return result, nil
}

// ClientCredentialsGrant implements the client_credentials grant: the
// client authenticates as itself, sub is the client_id, and no id or
// refresh token is ever issued.
func (s *Service) ClientCredentialsGrant(ctx context.Context, client *clients.Client, requestedScopes []string) (*IssueResult, error) {
	if !client.HasGrantType(clients.GrantClientCredentials) {
		return nil, ErrUnauthorizedClient
	}

	scopes := requestedScopes
	if len(scopes) == 0 {
		scopes = client.Scopes
	} else if !isSubset(scopes, client.Scopes) {
		return nil, ErrScopeNotSubset
	}

	rawAccess, err := s.issueAccessToken(client.ID, client.ID, scopes, time.Now())
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  client.ID,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{
			audit.AttrClientID:  client.ID,
			audit.AttrGrantType: clients.GrantClientCredentials,
		},
	})
	s.recordTokenIssued(ctx, clients.GrantClientCredentials)

	return &IssueResult{
		AccessToken: rawAccess,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.accessTokenTTL.Seconds()),
		Scope:       joinScopes(scopes),
	}, nil
}

// Revoke implements RFC 7009. Access tokens are not individually
// revocable (they are self-contained JWTs); the endpoint reports success
// regardless, per RFC 7009 §2.2.
func (s *Service) Revoke(ctx context.Context, client *clients.Client, token string) error {
	rt, err := s.refreshTokens.GetByHash(ctx, hashOpaqueToken(token))
	if err != nil {
		return nil
	}
	if rt.ClientID != client.ID {
		return nil
	}
	if err := s.refreshTokens.Revoke(ctx, rt.TokenHash); err != nil {
		return err
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRevoked,
		ActorID:  rt.UserSub,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{
			audit.AttrClientID: client.ID,
			audit.AttrReason:   "client_requested",
		},
	})
	return nil
}

// IntrospectionResult is the RFC 7662 response body.
type IntrospectionResult struct {
	Active    bool
	Sub       string
	ClientID  string
	Scope     string
	Audience  string
	ExpiresAt int64
	IssuedAt  int64
}

// IntrospectRefreshToken reports the liveness of an opaque refresh token.
// Access token introspection is handled by the transport layer directly
// against internal/jose + internal/keys (jose.Verify against the active
// signing keys), since it requires no repository lookup — the token is
// self-verifying.
func (s *Service) IntrospectRefreshToken(ctx context.Context, token string) (*IntrospectionResult, error) {
	rt, err := s.refreshTokens.GetByHash(ctx, hashOpaqueToken(token))
	if err != nil {
		return &IntrospectionResult{Active: false}, nil
	}
	if rt.Revoked || rt.Expired(time.Now()) {
		return &IntrospectionResult{Active: false}, nil
	}
	return &IntrospectionResult{
		Active:    true,
		Sub:       rt.UserSub,
		ClientID:  rt.ClientID,
		Scope:     joinScopes(rt.Scopes),
		Audience:  s.audienceFor(rt.ClientID),
		ExpiresAt: rt.ExpiresAt.Unix(),
		IssuedAt:  rt.IssuedAt.Unix(),
	}, nil
}

func (s *Service) newRefreshToken(chainID, clientID, userSub string, scopes []string, authTime time.Time) (*RefreshToken, string) {
	raw := id.NewOpaqueToken(refreshEntropyBytes)
	now := time.Now()
	rt := &RefreshToken{
		TokenHash: hashOpaqueToken(raw),
		ChainID:   chainID,
		ClientID:  clientID,
		UserSub:   userSub,
		Scopes:    scopes,
		AuthTime:  authTime,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTokenTTL),
	}
	return rt, raw
}

func hashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func isSubset(requested, allowed []string) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, sc := range allowed {
		allowedSet[sc] = true
	}
	for _, sc := range requested {
		if !allowedSet[sc] {
			return false
		}
	}
	return true
}
