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

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/idp/internal/federation"
)

// StateRepository implements federation.StateRepository.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a new federation state repository.
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Create stores a newly minted CSRF state row.
func (r *StateRepository) Create(ctx context.Context, state *federation.OAuthState) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth_state (state, provider, return_to, code_verifier, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		state.State, state.Provider, state.ReturnTo, state.CodeVerifier, state.ExpiresAt, state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", err)
	}
	return nil
}

// Consume atomically deletes and returns the state row, so a replayed
// callback (same state presented twice) can never consume it twice.
func (r *StateRepository) Consume(ctx context.Context, state string) (*federation.OAuthState, bool, error) {
	var row federation.OAuthState

	err := r.db.pool.QueryRow(ctx, `
		DELETE FROM oauth_state WHERE state = $1
		RETURNING state, provider, return_to, code_verifier, expires_at, created_at
	`, state).Scan(
		&row.State, &row.Provider, &row.ReturnTo, &row.CodeVerifier, &row.ExpiresAt, &row.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	return &row, true, nil
}
