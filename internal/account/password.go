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

package account

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/opentrusty/idp/internal/audit"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher hashes and verifies passwords using Argon2id, encoding the
// parameters into the stored hash so they can change across deployments
// without invalidating existing credentials.
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a hasher with the given Argon2id cost parameters.
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash produces an encoded Argon2id hash: $argon2id$v=19$m=...,t=...,p=...$salt$hash.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.iterations, h.memory, h.parallelism, h.keyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether password matches encodedHash, re-deriving the hash
// with the parameters embedded in encodedHash rather than the hasher's own,
// so a cost-parameter change doesn't break existing credentials.
func (h *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	var sections []string
	start := 0
	raw := []byte(encodedHash)
	for i, c := range raw {
		if c == '$' {
			if i > start {
				sections = append(sections, string(raw[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		sections = append(sections, string(raw[start:]))
	}

	if len(sections) != 5 || sections[0] != "argon2id" {
		return false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid version: %w", err)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[3])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	actual := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	if len(actual) != len(expected) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

// Credentials is the password record stored separately from Account, since
// the user-record CRUD service models accounts and contacts but not
// password material.
type Credentials struct {
	Sub                 string
	PasswordHash        string
	FailedLoginAttempts int
	LockedUntil         *time.Time
}

// CredentialStore persists password hashes and lockout bookkeeping, keyed
// by the account's sub.
type CredentialStore interface {
	GetCredentials(ctx context.Context, sub string) (*Credentials, error)
	UpdateLockout(ctx context.Context, sub string, attempts int, lockedUntil *time.Time) error
}

// Argon2Authenticator implements PasswordAuthenticator against a UserStore
// and CredentialStore, applying account lockout after repeated failures. It
// returns the same ErrInvalidCredentials for "no such user", "no
// credentials on file", and "wrong password"; a locked account gets
// ErrAccountLocked. The login handler maps every error to the same
// redirect, so the login form can't be used as a user enumeration oracle.
type Argon2Authenticator struct {
	users              UserStore
	credentials        CredentialStore
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewArgon2Authenticator wires a password authenticator from its collaborators.
func NewArgon2Authenticator(
	users UserStore,
	credentials CredentialStore,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Argon2Authenticator {
	return &Argon2Authenticator{
		users:              users,
		credentials:        credentials,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// Authenticate verifies email/password and returns the account's sub.
func (a *Argon2Authenticator) Authenticate(ctx context.Context, email, password string) (string, error) {
	acct, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		a.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAuthFailure,
			Resource: audit.ResourceUser,
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return "", ErrInvalidCredentials
	}

	creds, err := a.credentials.GetCredentials(ctx, acct.Sub)
	if err != nil {
		a.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAuthFailure,
			ActorID:  acct.Sub,
			Resource: audit.ResourceUser,
			Metadata: map[string]any{audit.AttrReason: "no_password_credentials"},
		})
		return "", ErrInvalidCredentials
	}

	if creds.LockedUntil != nil && creds.LockedUntil.After(time.Now()) {
		a.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAuthFailure,
			ActorID:  acct.Sub,
			Resource: audit.ResourceUser,
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return "", ErrAccountLocked
	}

	valid, err := a.hasher.Verify(password, creds.PasswordHash)
	if err != nil || !valid {
		attempts := creds.FailedLoginAttempts + 1
		var lockedUntil *time.Time
		if attempts >= a.lockoutMaxAttempts {
			until := time.Now().Add(a.lockoutDuration)
			lockedUntil = &until
			a.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				ActorID:  acct.Sub,
				Resource: audit.ResourceUser,
				Metadata: map[string]any{audit.AttrAttempts: attempts},
			})
		}
		_ = a.credentials.UpdateLockout(ctx, acct.Sub, attempts, lockedUntil)

		a.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAuthFailure,
			ActorID:  acct.Sub,
			Resource: audit.ResourceUser,
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: attempts,
			},
		})
		return "", ErrInvalidCredentials
	}

	if creds.FailedLoginAttempts > 0 || creds.LockedUntil != nil {
		_ = a.credentials.UpdateLockout(ctx, acct.Sub, 0, nil)
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAuthSuccess,
		ActorID:  acct.Sub,
		Resource: audit.ResourceUser,
	})

	return acct.Sub, nil
}
