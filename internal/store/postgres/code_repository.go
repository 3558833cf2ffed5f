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
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/idp/internal/oauth2"
)

// AuthorizationCodeRepository implements oauth2.AuthorizationCodeRepository.
type AuthorizationCodeRepository struct {
	db *DB
}

// NewAuthorizationCodeRepository creates a new authorization code repository.
func NewAuthorizationCodeRepository(db *DB) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: db}
}

// Create stores a newly minted authorization code.
func (r *AuthorizationCodeRepository) Create(ctx context.Context, code *oauth2.AuthorizationCode) error {
	scopes, err := json.Marshal(code.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO authorization_codes (
			code, client_id, redirect_uri, scopes, user_sub,
			code_challenge, code_challenge_method, nonce,
			auth_time, expires_at, created_at, used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
	`,
		code.Code, code.ClientID, code.RedirectURI, scopes, code.UserSub,
		code.CodeChallenge, code.CodeChallengeMethod, code.Nonce,
		code.AuthTime, code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create authorization code: %w", err)
	}
	return nil
}

// Consume atomically marks code used and returns its row, so two concurrent
// redemption attempts can never both succeed (§5 concurrency requirement).
func (r *AuthorizationCodeRepository) Consume(ctx context.Context, codeStr string) (*oauth2.AuthorizationCode, error) {
	var code oauth2.AuthorizationCode
	var scopes []byte

	err := r.db.pool.QueryRow(ctx, `
		UPDATE authorization_codes SET used = true
		WHERE code = $1 AND used = false
		RETURNING code, client_id, redirect_uri, scopes, user_sub,
			code_challenge, code_challenge_method, nonce, auth_time, expires_at, created_at
	`, codeStr).Scan(
		&code.Code, &code.ClientID, &code.RedirectURI, &scopes, &code.UserSub,
		&code.CodeChallenge, &code.CodeChallengeMethod, &code.Nonce,
		&code.AuthTime, &code.ExpiresAt, &code.CreatedAt,
	)
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, fmt.Errorf("failed to consume authorization code: %w", err)
		}

		// The UPDATE matched no row: either the code never existed, or it
		// was already consumed. Distinguish the two with a plain lookup.
		var exists bool
		checkErr := r.db.pool.QueryRow(ctx, `SELECT true FROM authorization_codes WHERE code = $1`, codeStr).Scan(&exists)
		if checkErr == pgx.ErrNoRows {
			return nil, oauth2.ErrCodeNotFound
		}
		if checkErr != nil {
			return nil, fmt.Errorf("failed to check authorization code: %w", checkErr)
		}
		return nil, oauth2.ErrCodeAlreadyUsed
	}

	if err := json.Unmarshal(scopes, &code.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}

	return &code, nil
}
