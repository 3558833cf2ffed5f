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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/idp/internal/account"
	"github.com/opentrusty/idp/internal/id"
)

// UserRepository implements account.UserStore.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	err := row.Scan(
		&acc.Sub, &acc.Email, &acc.EmailVerified,
		&acc.Profile.Name, &acc.Profile.GivenName, &acc.Profile.FamilyName, &acc.Profile.Picture,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &acc, nil
}

// FindBySub retrieves an account by its stable subject identifier.
func (r *UserRepository) FindBySub(ctx context.Context, sub string) (*account.Account, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT sub, email, email_verified, name, given_name, family_name, picture
		FROM accounts WHERE sub = $1
	`, sub)
	return scanAccount(row)
}

// FindByEmail retrieves an account by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT sub, email, email_verified, name, given_name, family_name, picture
		FROM accounts WHERE email = $1
	`, email)
	return scanAccount(row)
}

// FindOrCreateByEmail resolves an account for email, creating one from
// profile if none exists yet. An empty email (X's federation profile
// carries none) never matches an existing row and always creates a fresh
// account, since accounts.email is unique but never NULL.
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, email string, profile account.Profile) (*account.Account, error) {
	if email != "" {
		acc, err := r.FindByEmail(ctx, email)
		if err == nil {
			return acc, nil
		}
		if err != account.ErrAccountNotFound {
			return nil, err
		}
	}

	now := time.Now()
	acc := &account.Account{
		Sub:           id.NewUUIDv7(),
		Email:         email,
		EmailVerified: email != "",
		Profile:       profile,
	}
	if email == "" {
		// Synthesize a unique placeholder so the email column's UNIQUE
		// constraint never collides across multiple no-email sign-ins.
		acc.Email = "no-email+" + acc.Sub + "@invalid.opentrusty.local"
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO accounts (sub, email, email_verified, name, given_name, family_name, picture, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		acc.Sub, acc.Email, acc.EmailVerified,
		profile.Name, profile.GivenName, profile.FamilyName, profile.Picture,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return acc, nil
}

// FindProviderAccount resolves the link row for an external identity, if any.
func (r *UserRepository) FindProviderAccount(ctx context.Context, provider, providerSub string) (*account.ProviderAccount, error) {
	var link account.ProviderAccount
	err := r.db.pool.QueryRow(ctx, `
		SELECT provider, provider_sub, account_id, linked_at
		FROM provider_accounts WHERE provider = $1 AND provider_sub = $2
	`, provider, providerSub).Scan(&link.Provider, &link.ProviderSub, &link.AccountID, &link.LinkedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get provider account: %w", err)
	}
	return &link, nil
}

// LinkProviderAccount records a new external-identity-to-local-account link.
func (r *UserRepository) LinkProviderAccount(ctx context.Context, link account.ProviderAccount) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO provider_accounts (provider, provider_sub, account_id, linked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_sub) DO NOTHING
	`, link.Provider, link.ProviderSub, link.AccountID, link.LinkedAt)
	if err != nil {
		return fmt.Errorf("failed to link provider account: %w", err)
	}
	return nil
}

// CredentialRepository implements account.CredentialStore.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetCredentials retrieves the password record for sub.
func (r *CredentialRepository) GetCredentials(ctx context.Context, sub string) (*account.Credentials, error) {
	var creds account.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT sub, password_hash, failed_login_attempts, locked_until
		FROM credentials WHERE sub = $1
	`, sub).Scan(&creds.Sub, &creds.PasswordHash, &creds.FailedLoginAttempts, &creds.LockedUntil)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &creds, nil
}

// UpdateLockout persists the failed-attempt counter and lockout expiry.
func (r *CredentialRepository) UpdateLockout(ctx context.Context, sub string, attempts int, lockedUntil *time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE credentials SET failed_login_attempts = $2, locked_until = $3 WHERE sub = $1
	`, sub, attempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update lockout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}
