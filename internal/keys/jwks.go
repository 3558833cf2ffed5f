package keys

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"sort"
	"time"

	"github.com/opentrusty/idp/internal/jose"
)

// JWK is one entry of a JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the current key set: every asymmetric key that is either
// still active or was retired less than jwksGracePeriod ago (so a token
// signed just before rotation still verifies against a published key),
// sorted by kid for a stable response body.
func (m *Manager) JWKS() JWKS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	keys := make([]JWK, 0, len(m.byID))
	for _, k := range m.byID {
		if k.Retired() && now.Sub(*k.RetiredAt) >= m.jwksGracePeriod {
			continue
		}
		jwk, ok := toJWK(k)
		if !ok {
			continue
		}
		keys = append(keys, jwk)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Kid < keys[j].Kid })
	return JWKS{Keys: keys}
}

func toJWK(k *SigningKey) (JWK, bool) {
	switch pub := k.Public.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA",
			Kid: k.KID,
			Use: "sig",
			Alg: string(k.Algorithm),
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}, true
	case *ecdsa.PublicKey:
		crv, ok := curveName(k.Algorithm)
		if !ok {
			return JWK{}, false
		}
		return JWK{
			Kty: "EC",
			Kid: k.KID,
			Use: "sig",
			Alg: string(k.Algorithm),
			Crv: crv,
			X:   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
			Y:   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
		}, true
	default:
		return JWK{}, false
	}
}

func curveName(alg jose.Algorithm) (string, bool) {
	switch alg {
	case jose.ES256:
		return "P-256", true
	case jose.ES384:
		return "P-384", true
	case jose.ES512:
		return "P-521", true
	default:
		return "", false
	}
}
