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

package federation

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// jwk is the subset of RFC 7517 fields this client consumes; providers we
// federate with only publish RSA signing keys.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type cachedJWKS struct {
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// JWKSCache fetches and caches each provider's signing keys, keyed by JWKS
// URL. Concurrent refreshes of the same URL are coalesced into a single
// in-flight HTTP request via singleflight, so a burst of callback requests
// arriving right after a cache expiry does not stampede the provider.
type JWKSCache struct {
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]*cachedJWKS

	group singleflight.Group
}

// NewJWKSCache constructs a cache using httpClient for fetches. A nil
// httpClient defaults to one with a 10s timeout, matching this provider's
// bounded-outbound-call requirement for federation traffic.
func NewJWKSCache(httpClient *http.Client) *JWKSCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{
		httpClient: httpClient,
		cache:      make(map[string]*cachedJWKS),
	}
}

// Key returns the RSA public key for kid published at jwksURL, fetching
// (and caching) the document if necessary.
func (c *JWKSCache) Key(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	set, err := c.keySet(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	key, ok := set[kid]
	if !ok {
		return nil, fmt.Errorf("federation: kid %q not found in JWKS at %s", kid, jwksURL)
	}
	return key, nil
}

func (c *JWKSCache) keySet(ctx context.Context, jwksURL string) (map[string]*rsa.PublicKey, error) {
	c.mu.RLock()
	entry, ok := c.cache[jwksURL]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.keys, nil
	}

	v, err, _ := c.group.Do(jwksURL, func() (interface{}, error) {
		return c.fetch(ctx, jwksURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*cachedJWKS).keys, nil
}

func (c *JWKSCache) fetch(ctx context.Context, jwksURL string) (*cachedJWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federation: fetch JWKS %s: %w", jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("federation: JWKS %s returned status %d", jwksURL, resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("federation: decode JWKS %s: %w", jwksURL, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	maxAge := cacheControlMaxAge(resp.Header.Get("Cache-Control"))
	entry := &cachedJWKS{keys: keys, expiresAt: time.Now().Add(maxAge)}

	c.mu.Lock()
	c.cache[jwksURL] = entry
	c.mu.Unlock()

	return entry, nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// cacheControlMaxAge parses "max-age=N" out of a (possibly multi-directive)
// Cache-Control header, defaulting to 600s per §4.7 when absent or
// unparsable.
func cacheControlMaxAge(header string) time.Duration {
	const defaultTTL = 600 * time.Second
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || name != "max-age" {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultTTL
}
