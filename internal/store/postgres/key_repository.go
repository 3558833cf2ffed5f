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

	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/keys"
)

// KeyRepository implements keys.Repository.
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new signing key repository.
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create stores a newly generated, sealed signing key.
func (r *KeyRepository) Create(ctx context.Context, rec *keys.Record) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO signing_keys (kid, algorithm, sealed_private_key, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.KID, string(rec.Algorithm), rec.SealedPrivateKey, rec.CreatedAt, rec.RetiredAt)
	if err != nil {
		return fmt.Errorf("failed to create signing key: %w", err)
	}
	return nil
}

// Retire marks kid retired at retiredAt.
func (r *KeyRepository) Retire(ctx context.Context, kid string, retiredAt time.Time) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE signing_keys SET retired_at = $2 WHERE kid = $1
	`, kid, retiredAt)
	if err != nil {
		return fmt.Errorf("failed to retire signing key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return keys.ErrKeyNotFound
	}
	return nil
}

// ListAll returns every key, retired or not, for registry hydration.
func (r *KeyRepository) ListAll(ctx context.Context) ([]*keys.Record, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT kid, algorithm, sealed_private_key, created_at, retired_at
		FROM signing_keys
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signing keys: %w", err)
	}
	defer rows.Close()

	var records []*keys.Record
	for rows.Next() {
		var rec keys.Record
		var alg string
		if err := rows.Scan(&rec.KID, &alg, &rec.SealedPrivateKey, &rec.CreatedAt, &rec.RetiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan signing key: %w", err)
		}
		rec.Algorithm = jose.Algorithm(alg)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}
