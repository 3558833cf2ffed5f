package keys

import (
	"context"
	"time"

	"github.com/opentrusty/idp/internal/jose"
)

// Record is the persisted form of a SigningKey: the private key material is
// sealed (AES-256-GCM) rather than stored in the clear.
type Record struct {
	KID              string
	Algorithm        jose.Algorithm
	SealedPrivateKey []byte
	CreatedAt        time.Time
	RetiredAt        *time.Time
}

// Repository persists the signing key registry across restarts.
type Repository interface {
	// Create stores a newly generated key.
	Create(ctx context.Context, rec *Record) error

	// Retire marks kid retired at the given time.
	Retire(ctx context.Context, kid string, retiredAt time.Time) error

	// ListAll returns every key, retired or not, for registry hydration at
	// startup.
	ListAll(ctx context.Context) ([]*Record, error)
}
