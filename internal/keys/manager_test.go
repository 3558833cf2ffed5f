package keys_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/idp/internal/jose"
	"github.com/opentrusty/idp/internal/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepository is a simple in-memory implementation of keys.Repository.
type memRepository struct {
	mu      sync.Mutex
	records map[string]*keys.Record
}

func newMemRepository() *memRepository {
	return &memRepository{records: make(map[string]*keys.Record)}
}

func (r *memRepository) Create(ctx context.Context, rec *keys.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.KID] = rec
	return nil
}

func (r *memRepository) Retire(ctx context.Context, kid string, retiredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[kid]
	if !ok {
		return keys.ErrKeyNotFound
	}
	t := retiredAt
	rec.RetiredAt = &t
	return nil
}

func (r *memRepository) ListAll(ctx context.Context) ([]*keys.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*keys.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func testSealKey() []byte {
	return []byte("01234567890123456789012345678901")[:32]
}

const testGracePeriod = 900 * time.Second

// TestPurpose: Verifies that a generated key is immediately selectable by
// LatestActive and publishable via JWKS, and that JWKS never exposes
// private material.
func TestKeys_Generate_IsImmediatelyActiveAndPublished(t *testing.T) {
	repo := newMemRepository()
	mgr := keys.NewManager(repo, testSealKey(), testGracePeriod)

	key, err := mgr.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)
	assert.NotEmpty(t, key.KID)

	latest, err := mgr.LatestActive(jose.RS256)
	require.NoError(t, err)
	assert.Equal(t, key.KID, latest.KID)

	set := mgr.JWKS()
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "RSA", set.Keys[0].Kty)
	assert.Equal(t, key.KID, set.Keys[0].Kid)
	assert.NotEmpty(t, set.Keys[0].N)
	assert.NotEmpty(t, set.Keys[0].E)
}

// TestPurpose: Verifies that retiring a key excludes it from LatestActive
// selection immediately, but keeps it published in JWKS during the grace
// period so tokens signed just before rotation still verify.
func TestKeys_Retire_ExcludesFromSigningButKeepsJWKSDuringGrace(t *testing.T) {
	repo := newMemRepository()
	mgr := keys.NewManager(repo, testSealKey(), testGracePeriod)

	key, err := mgr.Generate(context.Background(), jose.ES256)
	require.NoError(t, err)

	_, err = mgr.ActiveKeypair(key.KID)
	require.NoError(t, err)

	require.NoError(t, mgr.Retire(context.Background(), key.KID))

	_, err = mgr.ActiveKeypair(key.KID)
	assert.ErrorIs(t, err, keys.ErrKeyNotFound)

	_, err = mgr.LatestActive(jose.ES256)
	assert.ErrorIs(t, err, keys.ErrNoActiveKey)

	set := mgr.JWKS()
	require.Len(t, set.Keys, 1, "retired key stays published during the grace period")
	assert.Equal(t, key.KID, set.Keys[0].Kid)
}

// TestPurpose: Verifies that a key retired longer ago than the grace period
// drops out of JWKS entirely.
func TestKeys_Retire_DropsFromJWKSAfterGracePeriod(t *testing.T) {
	repo := newMemRepository()
	mgr := keys.NewManager(repo, testSealKey(), time.Millisecond)

	key, err := mgr.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)
	require.NoError(t, mgr.Retire(context.Background(), key.KID))

	time.Sleep(5 * time.Millisecond)

	set := mgr.JWKS()
	assert.Empty(t, set.Keys)
}

// TestPurpose: Verifies that LatestActive picks the most recently generated
// non-retired key when multiple keys exist for the same algorithm.
func TestKeys_LatestActive_PicksNewestNonRetired(t *testing.T) {
	repo := newMemRepository()
	mgr := keys.NewManager(repo, testSealKey(), testGracePeriod)

	first, err := mgr.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := mgr.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)

	latest, err := mgr.LatestActive(jose.RS256)
	require.NoError(t, err)
	assert.Equal(t, second.KID, latest.KID)
	assert.NotEqual(t, first.KID, latest.KID)
}

// TestPurpose: Verifies that a persisted key survives a restart: Load
// rehydrates the registry from the repository, unsealing private material
// with the same seal key.
func TestKeys_Load_RehydratesFromRepository(t *testing.T) {
	repo := newMemRepository()
	sealKey := testSealKey()

	original := keys.NewManager(repo, sealKey, testGracePeriod)
	key, err := original.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)

	restarted := keys.NewManager(repo, sealKey, testGracePeriod)
	require.NoError(t, restarted.Load(context.Background()))

	got, err := restarted.ActiveKeypair(key.KID)
	require.NoError(t, err)
	assert.Equal(t, key.KID, got.KID)
	assert.Equal(t, jose.RS256, got.Algorithm)
}

// TestPurpose: Verifies that a full sign/verify round trip through
// internal/jose works against a key produced by this registry, exercising
// the two packages together the way the token service will.
func TestKeys_SignAndVerifyRoundTrip(t *testing.T) {
	repo := newMemRepository()
	mgr := keys.NewManager(repo, testSealKey(), testGracePeriod)

	key, err := mgr.Generate(context.Background(), jose.RS256)
	require.NoError(t, err)

	token, err := jose.Sign(jose.RS256, key.KID, jose.Claims{"sub": "user-1"}, key.Private)
	require.NoError(t, err)

	claims, err := jose.Verify(token, []jose.Algorithm{jose.RS256}, time.Now(), func(alg jose.Algorithm, kid string) (interface{}, error) {
		k, err := mgr.ActiveKeypair(kid)
		if err != nil {
			return nil, err
		}
		return k.Public, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}
