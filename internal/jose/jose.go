// Package jose implements compact JWS signing and verification for the
// subset of JSON Object Signing and Encryption this provider needs: RSA,
// ECDSA and HMAC signing methods at the 256/384/512 strengths, with the
// literal error reporting the rest of this codebase depends on to explain
// rejected tokens to clients and operators.
package jose

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is a JOSE "alg" header value this package knows how to sign and
// verify.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

func (a Algorithm) signingMethod() (jwt.SigningMethod, error) {
	m := jwt.GetSigningMethod(string(a))
	if m == nil {
		return nil, fmt.Errorf("jose: unsupported algorithm %q", a)
	}
	return m, nil
}

// Claims is a decoded JWT payload: a JSON object keyed by claim name.
type Claims map[string]interface{}

// Sign builds a compact JWS: base64url(header) + "." + base64url(payload) +
// "." + base64url(signature). header always carries "alg" and "typ": "JWT";
// kid is added when non-empty.
func Sign(alg Algorithm, kid string, claims Claims, key interface{}) (string, error) {
	method, err := alg.signingMethod()
	if err != nil {
		return "", err
	}

	header := map[string]interface{}{
		"alg": string(alg),
		"typ": "JWT",
	}
	if kid != "" {
		header["kid"] = kid
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("jose: marshal header: %w", err)
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("jose: marshal payload: %w", err)
	}

	signingInput := encodeSegment(headerJSON) + "." + encodeSegment(payloadJSON)

	sig, err := method.Sign(signingInput, key)
	if err != nil {
		return "", fmt.Errorf("jose: sign: %w", err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// KeyFunc resolves the verification key for a token's announced algorithm
// and key id. Implementations must reject algorithms they did not
// explicitly offer for this token's purpose — Verify only enforces that the
// header algorithm is a member of allowed.
type KeyFunc func(alg Algorithm, kid string) (interface{}, error)

// Verify parses and validates a compact JWS. alg must be present in
// allowed or verification fails with an algorithm-mismatch error before any
// key lookup or signature check runs — this is the algorithm-confusion
// defense (an attacker cannot force RS256-signed content to be accepted as
// HS256-with-public-key-as-secret, or vice versa). exp/nbf, when present,
// must be JSON numbers and are checked against now.
func Verify(token string, allowed []Algorithm, now time.Time, keyFunc KeyFunc) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("Invalid JWT format: expected 3 dot-separated parts, got %d", len(parts))
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("Invalid JWT format: header is not valid base64url: %w", err)
	}
	header, err := decodeJSONObject(headerBytes, "header")
	if err != nil {
		return nil, err
	}

	algVal, ok := header["alg"].(string)
	if !ok {
		return nil, errors.New("Invalid JWT format: header.alg must be a string")
	}

	allowedOK := false
	for _, a := range allowed {
		if string(a) == algVal {
			allowedOK = true
			break
		}
	}
	if !allowedOK {
		return nil, errors.New("JWT algorithm mismatch")
	}

	kid, _ := header["kid"].(string)

	key, err := keyFunc(Algorithm(algVal), kid)
	if err != nil {
		return nil, err
	}

	method, err := Algorithm(algVal).signingMethod()
	if err != nil {
		return nil, err
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("Invalid JWT format: signature is not valid base64url: %w", err)
	}

	signingInput := parts[0] + "." + parts[1]
	if err := method.Verify(signingInput, sig, key); err != nil {
		return nil, errors.New("Invalid JWT signature")
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("Invalid JWT format: payload is not valid base64url: %w", err)
	}
	payload, err := decodeJSONObject(payloadBytes, "payload")
	if err != nil {
		return nil, err
	}

	claims := Claims(payload)
	if err := claims.validateTimes(now); err != nil {
		return nil, err
	}

	return claims, nil
}

func (c Claims) numericClaim(name string) (int64, bool, error) {
	v, ok := c[name]
	if !ok {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, true, fmt.Errorf("%s claim must be a number", name)
	}
	return int64(f), true, nil
}

func (c Claims) validateTimes(now time.Time) error {
	exp, present, err := c.numericClaim("exp")
	if err != nil {
		return err
	}
	if present && !now.Before(time.Unix(exp, 0)) {
		return errors.New("JWT has expired")
	}

	nbf, present, err := c.numericClaim("nbf")
	if err != nil {
		return err
	}
	if present && now.Before(time.Unix(nbf, 0)) {
		return errors.New("JWT is not yet valid (nbf claim)")
	}

	return nil
}

// AtHash computes the OIDC "at_hash"/"c_hash" value for value under alg:
// base64url(left half of the hash of value, hashed with alg's hash
// function).
func AtHash(value string, alg Algorithm) (string, error) {
	var h hash.Hash
	switch alg {
	case RS256, ES256, HS256:
		h = sha256.New()
	case RS384, ES384, HS384:
		h = sha512.New384()
	case RS512, ES512, HS512:
		h = sha512.New()
	default:
		return "", fmt.Errorf("jose: unsupported algorithm %q for hash claim", alg)
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func decodeJSONObject(b []byte, part string) (map[string]interface{}, error) {
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("Invalid JWT format: %s is not valid JSON: %w", part, err)
	}

	// json.Number must be normalized back to float64 so downstream numeric
	// claim checks (exp/nbf) see the same type regardless of decoder.
	v = normalizeNumbers(v)

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("Invalid JWT format: %s must be a JSON object, got %s", part, kindOf(v))
	}
	return obj, nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
