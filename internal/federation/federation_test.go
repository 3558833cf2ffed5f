package federation_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/federation"
	"github.com/opentrusty/idp/internal/jose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStateRepository is a mutex-guarded in-memory federation.StateRepository
// whose Consume emulates an atomic conditional-delete: the second Consume of
// the same state always reports wasApplied=false, never an error.
type memStateRepository struct {
	mu   sync.Mutex
	rows map[string]*federation.OAuthState
}

func newMemStateRepository() *memStateRepository {
	return &memStateRepository{rows: make(map[string]*federation.OAuthState)}
}

func (r *memStateRepository) Create(_ context.Context, state *federation.OAuthState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	r.rows[state.State] = &cp
	return nil
}

func (r *memStateRepository) Consume(_ context.Context, state string) (*federation.OAuthState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[state]
	if !ok {
		return nil, false, nil
	}
	delete(r.rows, state)
	return row, true, nil
}

// memUserStore is a mutex-guarded in-memory account.UserStore sufficient for
// the federation link flow: email lookup/creation and provider-account
// linking, keyed by sub.
type memUserStore struct {
	mu         sync.Mutex
	byEmail    map[string]*account.Account
	byProvider map[string]*account.ProviderAccount
	nextSub    int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byEmail:    make(map[string]*account.Account),
		byProvider: make(map[string]*account.ProviderAccount),
	}
}

func (s *memUserStore) FindBySub(_ context.Context, sub string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byEmail {
		if a.Sub == sub {
			return a, nil
		}
	}
	return nil, account.ErrAccountNotFound
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.byEmail[email]; ok {
		return a, nil
	}
	return nil, account.ErrAccountNotFound
}

func (s *memUserStore) FindOrCreateByEmail(_ context.Context, email string, profile account.Profile) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if email != "" {
		if a, ok := s.byEmail[email]; ok {
			return a, nil
		}
	}
	s.nextSub++
	acc := &account.Account{
		Sub:     fmt.Sprintf("sub-%d", s.nextSub),
		Email:   email,
		Profile: profile,
	}
	if email != "" {
		s.byEmail[email] = acc
	} else {
		s.byEmail[acc.Sub] = acc
	}
	return acc, nil
}

func (s *memUserStore) FindProviderAccount(_ context.Context, provider, providerSub string) (*account.ProviderAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link, ok := s.byProvider[provider+"|"+providerSub]; ok {
		return link, nil
	}
	return nil, account.ErrAccountNotFound
}

func (s *memUserStore) LinkProviderAccount(_ context.Context, link account.ProviderAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byProvider[link.Provider+"|"+link.ProviderSub] = &link
	return nil
}

// testRSAKey returns a fresh RSA keypair and its JWKS document, used to
// stand up a fake provider JWKS endpoint.
func testRSAKey(t *testing.T, kid string) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	doc := map[string]interface{}{
		"keys": []map[string]interface{}{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			},
		},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return key, string(b)
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jose.Claims) string {
	t.Helper()
	token, err := jose.Sign(jose.RS256, kid, claims, key)
	require.NoError(t, err)
	return token
}

// TestPurpose: Verifies a full Google-style callback: state consumed, code
// exchanged, ID token validated against a fake JWKS, and a new local
// account created and linked.
// Scope: Unit Test
// Security: Federated Login Identity Linking
// Expected: CallbackResult.Account has the token's email, state is
// single-use.
func TestFederation_HandleCallback_GoogleIDToken_CreatesAndLinksAccount(t *testing.T) {
	key, jwksBody := testRSAKey(t, "kid-1")

	var jwksURL, tokenURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jwksBody))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idToken := signIDToken(t, key, "kid-1", jose.Claims{
			"iss":            "https://accounts.google.com",
			"aud":            "client-123",
			"sub":            "google-sub-1",
			"email":          "alice@example.com",
			"email_verified": true,
			"name":           "Alice Example",
			"exp":            time.Now().Add(time.Hour).Unix(),
			"iat":            time.Now().Unix(),
		})
		resp := map[string]interface{}{
			"access_token": "access-token-abc",
			"token_type":   "Bearer",
			"id_token":     idToken,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	jwksURL = srv.URL + "/jwks"
	tokenURL = srv.URL + "/token"

	cfg := federation.DefaultGoogleConfig()
	cfg.ClientID = "client-123"
	cfg.ClientSecret = "secret"
	cfg.RedirectURI = "https://idp.example.com/auth/google/callback"
	cfg.JWKSURL = jwksURL
	cfg.TokenURL = tokenURL
	cfg.AuthURL = srv.URL + "/auth"

	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderGoogle: &cfg,
	}, states, users, nil, nil)

	redirectURL, err := client.BeginAuth(context.Background(), federation.ProviderGoogle, "/account")
	require.NoError(t, err)
	require.NotEmpty(t, redirectURL)

	require.Len(t, states.rows, 1)
	var state string
	for k := range states.rows {
		state = k
	}

	result, err := client.HandleCallback(context.Background(), federation.ProviderGoogle, "auth-code", state, "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "/account", result.ReturnTo)
	assert.Equal(t, "alice@example.com", result.Account.Email)

	// State is single-use.
	_, err = client.HandleCallback(context.Background(), federation.ProviderGoogle, "auth-code", state, "")
	assert.ErrorIs(t, err, federation.ErrStateNotFound)
}

// TestPurpose: Verifies an ID token whose issuer does not match the
// provider's configured issuer is rejected before any account is touched.
// Scope: Unit Test
// Security: Federation Issuer Confusion Prevention
// Expected: HandleCallback returns an error whose text is "Invalid token
// issuer"; no account is created.
func TestFederation_HandleCallback_RejectsWrongIssuer(t *testing.T) {
	key, jwksBody := testRSAKey(t, "kid-1")

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jwksBody))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idToken := signIDToken(t, key, "kid-1", jose.Claims{
			"iss":   "https://evil.example.com",
			"aud":   "client-123",
			"sub":   "google-sub-1",
			"email": "alice@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
			"iat":   time.Now().Unix(),
		})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token-abc",
			"token_type":   "Bearer",
			"id_token":     idToken,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := federation.DefaultGoogleConfig()
	cfg.ClientID = "client-123"
	cfg.ClientSecret = "secret"
	cfg.RedirectURI = "https://idp.example.com/auth/google/callback"
	cfg.JWKSURL = srv.URL + "/jwks"
	cfg.TokenURL = srv.URL + "/token"
	cfg.AuthURL = srv.URL + "/auth"

	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderGoogle: &cfg,
	}, states, users, nil, nil)

	_, err := client.BeginAuth(context.Background(), federation.ProviderGoogle, "/account")
	require.NoError(t, err)
	var state string
	for k := range states.rows {
		state = k
	}

	_, err = client.HandleCallback(context.Background(), federation.ProviderGoogle, "auth-code", state, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid token issuer")
	assert.Empty(t, users.byEmail)
}

// TestPurpose: Verifies an ID token with no "kid" in its header is rejected
// without attempting a JWKS lookup.
// Scope: Unit Test
// Security: Federation ID Token Validation
// Expected: error wraps ErrInvalidIDToken and mentions "missing kid".
func TestFederation_ValidateIDToken_RejectsMissingKid(t *testing.T) {
	key, _ := testRSAKey(t, "")
	idToken := signIDToken(t, key, "", jose.Claims{
		"iss": "https://accounts.google.com",
		"aud": "client-123",
		"sub": "google-sub-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token-abc",
			"id_token":     idToken,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := federation.DefaultGoogleConfig()
	cfg.ClientID = "client-123"
	cfg.ClientSecret = "secret"
	cfg.RedirectURI = "https://idp.example.com/auth/google/callback"
	cfg.JWKSURL = srv.URL + "/jwks"
	cfg.TokenURL = srv.URL + "/token"
	cfg.AuthURL = srv.URL + "/auth"

	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderGoogle: &cfg,
	}, states, users, nil, nil)

	_, err := client.BeginAuth(context.Background(), federation.ProviderGoogle, "/account")
	require.NoError(t, err)
	var state string
	for k := range states.rows {
		state = k
	}

	_, err = client.HandleCallback(context.Background(), federation.ProviderGoogle, "auth-code", state, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, federation.ErrInvalidIDToken)
	assert.Contains(t, err.Error(), "missing kid")
}

// TestPurpose: Verifies a callback for a state that was never created (or
// already consumed) fails as replay, never falling through to a provider
// call.
// Scope: Unit Test
// Security: Federation CSRF State Replay Prevention
// Expected: ErrStateNotFound.
func TestFederation_HandleCallback_RejectsUnknownState(t *testing.T) {
	cfg := federation.DefaultGoogleConfig()
	cfg.ClientID = "client-123"
	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderGoogle: &cfg,
	}, states, users, nil, nil)

	_, err := client.HandleCallback(context.Background(), federation.ProviderGoogle, "auth-code", "never-issued-state", "")
	assert.ErrorIs(t, err, federation.ErrStateNotFound)
}

// TestPurpose: Verifies the provider-side error parameter on a callback
// (user denied consent, etc.) is surfaced as ErrCallbackError without
// attempting to consume state or exchange a code.
// Scope: Unit Test
// Security: Federation Error Propagation
// Expected: ErrCallbackError.
func TestFederation_HandleCallback_PropagatesProviderError(t *testing.T) {
	cfg := federation.DefaultGoogleConfig()
	cfg.ClientID = "client-123"
	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderGoogle: &cfg,
	}, states, users, nil, nil)

	_, err := client.HandleCallback(context.Background(), federation.ProviderGoogle, "", "any-state", "access_denied")
	assert.ErrorIs(t, err, federation.ErrCallbackError)
}

// TestPurpose: Verifies Facebook's profile-endpoint path (no ID token):
// the access token is exchanged, Graph /me is fetched, and the resulting
// identity is linked by provider+sub since Facebook issues no ID token.
// Scope: Unit Test
// Security: Non-OIDC Federated Login
// Expected: CallbackResult.Account.Email matches the Graph response.
func TestFederation_HandleCallback_FacebookProfileFetch_CreatesAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fb-access-token",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fb-access-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":         "fb-sub-1",
			"name":       "Bob Example",
			"email":      "bob@example.com",
			"first_name": "Bob",
			"last_name":  "Example",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := federation.DefaultFacebookConfig()
	cfg.ClientID = "fb-client"
	cfg.ClientSecret = "fb-secret"
	cfg.RedirectURI = "https://idp.example.com/auth/facebook/callback"
	cfg.TokenURL = srv.URL + "/token"
	cfg.AuthURL = srv.URL + "/auth"
	cfg.ProfileURL = srv.URL + "/me"

	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderFacebook: &cfg,
	}, states, users, nil, nil)

	_, err := client.BeginAuth(context.Background(), federation.ProviderFacebook, "/")
	require.NoError(t, err)
	var state string
	for k := range states.rows {
		state = k
	}

	result, err := client.HandleCallback(context.Background(), federation.ProviderFacebook, "auth-code", state, "")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", result.Account.Email)
}

// TestPurpose: Verifies BeginAuth for a PKCE provider (X) attaches
// code_challenge/code_challenge_method to the authorization URL and
// persists a non-empty CodeVerifier for the later token exchange.
// Scope: Unit Test
// Security: Federation PKCE Enforcement
// Expected: redirect URL contains "code_challenge="; stored state has a
// CodeVerifier.
func TestFederation_BeginAuth_XProvider_AttachesPKCE(t *testing.T) {
	cfg := federation.DefaultXConfig()
	cfg.ClientID = "x-client"
	cfg.RedirectURI = "https://idp.example.com/auth/x/callback"

	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{
		federation.ProviderX: &cfg,
	}, states, users, nil, nil)

	redirectURL, err := client.BeginAuth(context.Background(), federation.ProviderX, "/")
	require.NoError(t, err)
	assert.Contains(t, redirectURL, "code_challenge=")
	assert.Contains(t, redirectURL, "code_challenge_method=S256")

	require.Len(t, states.rows, 1)
	for _, row := range states.rows {
		assert.NotEmpty(t, row.CodeVerifier)
	}
}

// TestPurpose: Verifies BeginAuth against an unconfigured provider fails
// immediately rather than silently no-oping.
// Scope: Unit Test
// Security: Federation Configuration Validation
// Expected: ErrProviderNotConfigured.
func TestFederation_BeginAuth_UnknownProvider(t *testing.T) {
	states := newMemStateRepository()
	users := newMemUserStore()
	client := federation.NewClient(map[string]*federation.ProviderConfig{}, states, users, nil, nil)

	_, err := client.BeginAuth(context.Background(), "unknown-provider", "/")
	assert.ErrorIs(t, err, federation.ErrProviderNotConfigured)
}
