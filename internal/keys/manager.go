package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/opentrusty/idp/internal/jose"
)

// Load hydrates the in-memory registry from the repository, unsealing each
// record's private key material with the manager's seal key. Call once at
// startup before serving traffic.
func (m *Manager) Load(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	records, err := m.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("keys: load registry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		der, err := open(m.sealKey, rec.SealedPrivateKey)
		if err != nil {
			return fmt.Errorf("keys: unseal key %s: %w", rec.KID, err)
		}
		priv, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return fmt.Errorf("keys: parse private key %s: %w", rec.KID, err)
		}

		pub, err := publicKeyOf(priv)
		if err != nil {
			return fmt.Errorf("keys: key %s: %w", rec.KID, err)
		}

		m.byID[rec.KID] = &SigningKey{
			KID:       rec.KID,
			Algorithm: rec.Algorithm,
			Private:   priv,
			Public:    pub,
			CreatedAt: rec.CreatedAt,
			RetiredAt: rec.RetiredAt,
		}
	}
	return nil
}

// Generate produces a fresh key of the given algorithm, persists it, and
// adds it to the registry. The new key immediately becomes eligible for
// LatestActive selection.
func (m *Manager) Generate(ctx context.Context, alg jose.Algorithm) (*SigningKey, error) {
	priv, pub, err := generateKeypair(alg)
	if err != nil {
		return nil, err
	}

	key := &SigningKey{
		KID:       newKID(),
		Algorithm: alg,
		Private:   priv,
		Public:    pub,
		CreatedAt: time.Now(),
	}

	if m.repo != nil {
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("keys: marshal private key: %w", err)
		}
		sealed, err := seal(m.sealKey, der)
		if err != nil {
			return nil, fmt.Errorf("keys: seal private key: %w", err)
		}
		rec := &Record{
			KID:              key.KID,
			Algorithm:        key.Algorithm,
			SealedPrivateKey: sealed,
			CreatedAt:        key.CreatedAt,
		}
		if err := m.repo.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("keys: persist key: %w", err)
		}
	}

	m.mu.Lock()
	m.byID[key.KID] = key
	m.mu.Unlock()

	return key, nil
}

// Retire marks kid retired: it is never again selected by LatestActive,
// ActiveKeypair reports it as not found, and JWKS keeps publishing it only
// until jwksGracePeriod has elapsed since retirement.
func (m *Manager) Retire(ctx context.Context, kid string) error {
	m.mu.Lock()
	key, ok := m.byID[kid]
	if !ok {
		m.mu.Unlock()
		return ErrKeyNotFound
	}
	now := time.Now()
	key.RetiredAt = &now
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Retire(ctx, kid, now); err != nil {
			return fmt.Errorf("keys: persist retirement: %w", err)
		}
	}
	return nil
}

// ActiveKeypair looks up kid for verification. A retired key is reported as
// not found: verification of already-issued tokens signed by a retired key
// is still served separately by callers that explicitly want retired keys
// (there are none in this provider — retired keys are kept only for JWKS
// history and are never dereferenced again once their tokens expire).
func (m *Manager) ActiveKeypair(kid string) (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byID[kid]
	if !ok || key.Retired() {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// LatestActive returns the newest non-retired key for alg, used for signing
// new tokens. Verification looks keys up by kid through ActiveKeypair and
// has no fallback to LatestActive.
func (m *Manager) LatestActive(alg jose.Algorithm) (*SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *SigningKey
	for _, k := range m.byID {
		if k.Algorithm != alg || k.Retired() {
			continue
		}
		if latest == nil || k.CreatedAt.After(latest.CreatedAt) {
			latest = k
		}
	}
	if latest == nil {
		return nil, ErrNoActiveKey
	}
	return latest, nil
}

func publicKeyOf(priv interface{}) (interface{}, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", priv)
	}
}
