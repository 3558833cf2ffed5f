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

// RefreshTokenRepository implements oauth2.RefreshTokenRepository.
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository.
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a newly issued refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *oauth2.RefreshToken) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_hash, chain_id, client_id, user_sub, scopes,
			auth_time, issued_at, expires_at, revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		token.TokenHash, token.ChainID, token.ClientID, token.UserSub, scopes,
		token.AuthTime, token.IssuedAt, token.ExpiresAt, token.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a refresh token by its hash.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*oauth2.RefreshToken, error) {
	var token oauth2.RefreshToken
	var scopes []byte

	err := r.db.pool.QueryRow(ctx, `
		SELECT token_hash, chain_id, client_id, user_sub, scopes,
			auth_time, issued_at, expires_at, revoked
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&token.TokenHash, &token.ChainID, &token.ClientID, &token.UserSub, &scopes,
		&token.AuthTime, &token.IssuedAt, &token.ExpiresAt, &token.Revoked,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if err := json.Unmarshal(scopes, &token.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}

	return &token, nil
}

// Rotate atomically revokes oldHash and inserts next inside one
// transaction: the revoking UPDATE only ever matches a still-live row, so
// two concurrent rotations of the same token can never both succeed.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *oauth2.RefreshToken) (bool, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true
		WHERE token_hash = $1 AND revoked = false
	`, oldHash)
	if err != nil {
		return false, fmt.Errorf("failed to revoke old refresh token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	scopes, err := json.Marshal(next.Scopes)
	if err != nil {
		return false, fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_hash, chain_id, client_id, user_sub, scopes,
			auth_time, issued_at, expires_at, revoked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		next.TokenHash, next.ChainID, next.ClientID, next.UserSub, scopes,
		next.AuthTime, next.IssuedAt, next.ExpiresAt, next.Revoked,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return true, nil
}

// RevokeChain revokes every token sharing chainID: the replay defense burns
// the whole grant, not just the presented token.
func (r *RefreshTokenRepository) RevokeChain(ctx context.Context, chainID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE chain_id = $1 AND revoked = false
	`, chainID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token chain: %w", err)
	}
	return nil
}

// Revoke revokes a single token by hash (RFC 7009).
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}
