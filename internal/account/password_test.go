package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher() *account.PasswordHasher {
	return account.NewPasswordHasher(64*1024, 1, 1, 16, 32)
}

type memUsers struct {
	byEmail map[string]*account.Account
}

func (m *memUsers) FindBySub(ctx context.Context, sub string) (*account.Account, error) {
	for _, a := range m.byEmail {
		if a.Sub == sub {
			return a, nil
		}
	}
	return nil, account.ErrAccountNotFound
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	a, ok := m.byEmail[email]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return a, nil
}

func (m *memUsers) FindOrCreateByEmail(ctx context.Context, email string, profile account.Profile) (*account.Account, error) {
	if a, ok := m.byEmail[email]; ok {
		return a, nil
	}
	a := &account.Account{Sub: "sub-" + email, Email: email, Profile: profile}
	m.byEmail[email] = a
	return a, nil
}

func (m *memUsers) FindProviderAccount(ctx context.Context, provider, providerSub string) (*account.ProviderAccount, error) {
	return nil, account.ErrAccountNotFound
}

func (m *memUsers) LinkProviderAccount(ctx context.Context, link account.ProviderAccount) error {
	return nil
}

type memCredentials struct {
	bySub map[string]*account.Credentials
}

func (m *memCredentials) GetCredentials(ctx context.Context, sub string) (*account.Credentials, error) {
	c, ok := m.bySub[sub]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return c, nil
}

func (m *memCredentials) UpdateLockout(ctx context.Context, sub string, attempts int, lockedUntil *time.Time) error {
	c := m.bySub[sub]
	c.FailedLoginAttempts = attempts
	c.LockedUntil = lockedUntil
	return nil
}

type noopAuditLogger struct{ events []audit.Event }

func (l *noopAuditLogger) Log(ctx context.Context, event audit.Event) {
	l.events = append(l.events, event)
}

// TestPurpose: Verifies that a password hashed by PasswordHasher.Hash can be
// verified by PasswordHasher.Verify, and that a wrong password fails.
// Scope: Unit Test
// Security: Credential Storage
// Expected: correct password verifies true, incorrect password verifies false.
func TestAccount_PasswordHasher_HashAndVerifyRoundTrip(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	ok, err := h.Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestPurpose: Verifies that Verify rejects a malformed encoded hash instead
// of panicking or silently succeeding.
// Scope: Unit Test
// Security: Input Validation
// Expected: error returned, ok is false.
func TestAccount_PasswordHasher_Verify_RejectsMalformedHash(t *testing.T) {
	h := testHasher()

	ok, err := h.Verify("whatever", "not-an-argon2-hash")
	assert.Error(t, err)
	assert.False(t, ok)
}

func newTestAuthenticator(t *testing.T, maxAttempts int, lockout time.Duration) (*account.Argon2Authenticator, *memUsers, *memCredentials, *noopAuditLogger) {
	t.Helper()
	hasher := testHasher()
	encoded, err := hasher.Hash("s3cret-password")
	require.NoError(t, err)

	users := &memUsers{byEmail: map[string]*account.Account{
		"alice@example.com": {Sub: "sub-alice", Email: "alice@example.com"},
	}}
	creds := &memCredentials{bySub: map[string]*account.Credentials{
		"sub-alice": {Sub: "sub-alice", PasswordHash: encoded},
	}}
	logger := &noopAuditLogger{}
	auth := account.NewArgon2Authenticator(users, creds, hasher, logger, maxAttempts, lockout)
	return auth, users, creds, logger
}

// TestPurpose: Verifies that correct credentials authenticate successfully
// and emit an auth_success audit event.
// Scope: Unit Test
// Security: Authentication
// Expected: sub returned matches the account, one auth_success event logged.
func TestAccount_Argon2Authenticator_Authenticate_SucceedsWithCorrectPassword(t *testing.T) {
	auth, _, _, logger := newTestAuthenticator(t, 5, time.Hour)

	sub, err := auth.Authenticate(context.Background(), "alice@example.com", "s3cret-password")
	require.NoError(t, err)
	assert.Equal(t, "sub-alice", sub)

	require.Len(t, logger.events, 1)
	assert.Equal(t, audit.TypeAuthSuccess, logger.events[0].Type)
}

// TestPurpose: Verifies that an unknown email and a wrong password for a
// known email return the exact same error, so the login endpoint cannot be
// used to enumerate registered accounts.
// Scope: Unit Test
// Security: User Enumeration Oracle Suppression
// Expected: ErrInvalidCredentials in both cases.
func TestAccount_Argon2Authenticator_Authenticate_UnknownAndWrongPasswordAreIndistinguishable(t *testing.T) {
	auth, _, _, _ := newTestAuthenticator(t, 5, time.Hour)

	_, errUnknown := auth.Authenticate(context.Background(), "nobody@example.com", "whatever")
	_, errWrong := auth.Authenticate(context.Background(), "alice@example.com", "wrong-password")

	assert.ErrorIs(t, errUnknown, account.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, account.ErrInvalidCredentials)
}

// TestPurpose: Verifies that repeated failed attempts lock the account after
// the configured threshold, and that a locked account is rejected even with
// the correct password until the lockout expires.
// Scope: Unit Test
// Security: Brute-force Mitigation
// Expected: after lockoutMaxAttempts failures, ErrAccountLocked is returned
// for any subsequent attempt including the correct password.
func TestAccount_Argon2Authenticator_Authenticate_LocksAfterMaxAttempts(t *testing.T) {
	auth, _, creds, logger := newTestAuthenticator(t, 3, time.Hour)

	for i := 0; i < 3; i++ {
		_, err := auth.Authenticate(context.Background(), "alice@example.com", "wrong-password")
		assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	}

	assert.NotNil(t, creds.bySub["sub-alice"].LockedUntil)

	_, err := auth.Authenticate(context.Background(), "alice@example.com", "s3cret-password")
	assert.ErrorIs(t, err, account.ErrAccountLocked)

	var lockedEvents int
	for _, e := range logger.events {
		if e.Type == audit.TypeUserLocked {
			lockedEvents++
		}
	}
	assert.Equal(t, 1, lockedEvents)
}

// TestPurpose: Verifies that a successful login after prior failed attempts
// resets the lockout bookkeeping.
// Scope: Unit Test
// Security: Brute-force Mitigation
// Expected: FailedLoginAttempts reset to 0 and LockedUntil cleared after a
// successful authentication.
func TestAccount_Argon2Authenticator_Authenticate_ResetsLockoutOnSuccess(t *testing.T) {
	auth, _, creds, _ := newTestAuthenticator(t, 5, time.Hour)

	_, err := auth.Authenticate(context.Background(), "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	assert.Equal(t, 1, creds.bySub["sub-alice"].FailedLoginAttempts)

	_, err = auth.Authenticate(context.Background(), "alice@example.com", "s3cret-password")
	require.NoError(t, err)
	assert.Equal(t, 0, creds.bySub["sub-alice"].FailedLoginAttempts)
	assert.Nil(t, creds.bySub["sub-alice"].LockedUntil)
}
