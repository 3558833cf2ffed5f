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

// Package keys implements the process-wide signing key registry: generation,
// retirement, lookup, and JWKS publication for the asymmetric keys the token
// service signs with.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentrusty/idp/internal/id"
	"github.com/opentrusty/idp/internal/jose"
)

var (
	ErrKeyNotFound          = errors.New("keys: no such key, or key is retired")
	ErrNoActiveKey          = errors.New("keys: no active key for algorithm")
	ErrUnsupportedAlgorithm = errors.New("keys: unsupported algorithm")
)

// SigningKey is one generated asymmetric keypair.
type SigningKey struct {
	KID       string
	Algorithm jose.Algorithm
	Private   interface{} // *rsa.PrivateKey or *ecdsa.PrivateKey
	Public    interface{} // *rsa.PublicKey or *ecdsa.PublicKey
	CreatedAt time.Time
	RetiredAt *time.Time
}

// Retired reports whether the key has been retired.
func (k *SigningKey) Retired() bool {
	return k.RetiredAt != nil
}

// Manager is a readers-writer-locked registry of signing keys, optionally
// backed by a Repository for persistence across restarts. Reads (signing,
// verification, JWKS) vastly outnumber writes (rotation), so mutation swaps
// entries under a write lock while every read takes the read lock.
type Manager struct {
	mu   sync.RWMutex
	byID map[string]*SigningKey

	repo    Repository
	sealKey []byte

	// jwksGracePeriod keeps a retired key published in JWKS for a window
	// equal to the longest still-valid ID-token lifetime, so a token signed
	// moments before rotation still verifies. It is never used to select a
	// signing key — retired keys are never chosen by LatestActive.
	jwksGracePeriod time.Duration
}

// NewManager constructs an empty registry. Call Load to hydrate it from repo
// before serving traffic. jwksGracePeriod should match the ID token TTL.
func NewManager(repo Repository, sealKey []byte, jwksGracePeriod time.Duration) *Manager {
	return &Manager{
		byID:            make(map[string]*SigningKey),
		repo:            repo,
		sealKey:         sealKey,
		jwksGracePeriod: jwksGracePeriod,
	}
}

func generateKeypair(alg jose.Algorithm) (priv, pub interface{}, err error) {
	switch alg {
	case jose.RS256, jose.RS384, jose.RS512:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jose.ES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jose.ES384:
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jose.ES512:
		key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

func newKID() string {
	return id.NewUUIDv7()
}
