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
	"github.com/opentrusty/idp/internal/clients"
)

// ClientRepository implements clients.Repository.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create inserts a newly registered client.
func (r *ClientRepository) Create(ctx context.Context, c *clients.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect_uris: %w", err)
	}
	grantTypes, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant_types: %w", err)
	}
	responseTypes, err := json.Marshal(c.ResponseTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal response_types: %w", err)
	}
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO oauth_clients (
			id, name, redirect_uris, grant_types, response_types, scopes,
			token_endpoint_auth_method, secret_hash, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, c.Name, redirectURIs, grantTypes, responseTypes, scopes,
		c.TokenEndpointAuthMethod, c.SecretHash, c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetByID retrieves a client by id.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*clients.Client, error) {
	var c clients.Client
	var redirectURIs, grantTypes, responseTypes, scopes []byte

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, redirect_uris, grant_types, response_types, scopes,
			token_endpoint_auth_method, secret_hash, is_active, created_at, updated_at
		FROM oauth_clients
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &redirectURIs, &grantTypes, &responseTypes, &scopes,
		&c.TokenEndpointAuthMethod, &c.SecretHash, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, clients.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if err := json.Unmarshal(redirectURIs, &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect_uris: %w", err)
	}
	if err := json.Unmarshal(grantTypes, &c.GrantTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant_types: %w", err)
	}
	if err := json.Unmarshal(responseTypes, &c.ResponseTypes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response_types: %w", err)
	}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}

	return &c, nil
}

// Update persists every mutable field of c.
func (r *ClientRepository) Update(ctx context.Context, c *clients.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect_uris: %w", err)
	}
	grantTypes, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant_types: %w", err)
	}
	responseTypes, err := json.Marshal(c.ResponseTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal response_types: %w", err)
	}
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth_clients SET
			name = $2,
			redirect_uris = $3,
			grant_types = $4,
			response_types = $5,
			scopes = $6,
			token_endpoint_auth_method = $7,
			is_active = $8,
			updated_at = $9
		WHERE id = $1
	`,
		c.ID, c.Name, redirectURIs, grantTypes, responseTypes, scopes,
		c.TokenEndpointAuthMethod, c.IsActive, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if result.RowsAffected() == 0 {
		return clients.ErrClientNotFound
	}
	return nil
}
