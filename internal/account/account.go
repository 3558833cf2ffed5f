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

// Package account defines the external collaborators this provider's core
// depends on but does not own: the user-record CRUD service (UserStore) and
// the password verification used by the local login form. Both are ports;
// the Postgres-backed implementations in internal/store/postgres satisfy
// them, but nothing in the token, authorization, or federation flows
// imports that package directly.
package account

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound    = errors.New("account: not found")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrAccountLocked      = errors.New("account: locked due to repeated failed logins")
)

// Profile is the subset of profile fields the core reads into ID token
// claims when the requested scopes include "profile".
type Profile struct {
	Name       string
	GivenName  string
	FamilyName string
	Picture    string
}

// Account is the core's view of a user record, identified by a stable sub.
type Account struct {
	Sub           string
	Email         string
	EmailVerified bool
	Profile       Profile
}

// Contact is the minimal contact record the core consumes (spec's
// UserContact): one verified or unverified email/phone per account.
type Contact struct {
	AccountID    string
	ContactID    string
	ContactType  string // "email" or "phone"
	ContactValue string
	VerifiedAt   *time.Time
}

// ProviderAccount links an external federation identity to a local account.
type ProviderAccount struct {
	Provider    string
	ProviderSub string
	AccountID   string
	ContactID   string
	LinkedAt    time.Time
}

// UserStore is the external user-record CRUD service. The core reads
// accounts by sub or email and writes only through LinkProviderAccount and
// FindOrCreateByEmail — it never mutates profile fields directly.
type UserStore interface {
	FindBySub(ctx context.Context, sub string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// FindOrCreateByEmail resolves an account for email, creating one with
	// the given profile if none exists yet. Used by the federation link
	// flow when no ProviderAccount is on file.
	FindOrCreateByEmail(ctx context.Context, email string, profile Profile) (*Account, error)

	FindProviderAccount(ctx context.Context, provider, providerSub string) (*ProviderAccount, error)
	LinkProviderAccount(ctx context.Context, link ProviderAccount) error
}

// PasswordAuthenticator verifies local username/password credentials and
// returns the authenticated account's sub. Implementations own lockout
// bookkeeping and audit logging so that password login and magic-link
// login (out of scope here) can share one enumeration-resistant error.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (sub string, err error)
}
