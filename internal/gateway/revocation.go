package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/riftauction/auctiond/internal/coordinator"
	"github.com/riftauction/auctiond/internal/store"
)

// RevocationCache implements credential.RevocationChecker with a
// coordinator-backed cache in front of the durable store, so a revocation
// check on every socket handshake does not hit Postgres on the common path
// (spec §4.6).
type RevocationCache struct {
	coord    coordinator.Coordinator
	repo     store.CredentialRepository
	cacheTTL time.Duration
}

// NewRevocationCache constructs a RevocationCache.
func NewRevocationCache(coord coordinator.Coordinator, repo store.CredentialRepository, cacheTTL time.Duration) *RevocationCache {
	return &RevocationCache{coord: coord, repo: repo, cacheTTL: cacheTTL}
}

// IsRevoked checks the coordinator cache first, falling back to the store on
// a cache miss and populating the cache for subsequent lookups.
func (c *RevocationCache) IsRevoked(ctx context.Context, credential string) (bool, error) {
	key := coordinator.RevokedKey(credential)
	if cached, ok, err := c.coord.Get(ctx, key); err == nil && ok {
		return cached == "1", nil
	}

	revoked, err := c.repo.LookupRevokedCredential(ctx, credential)
	if err != nil {
		return false, fmt.Errorf("looking up revoked credential: %w", err)
	}

	value := "0"
	if revoked {
		value = "1"
	}
	if err := c.coord.Set(ctx, key, value, c.cacheTTL); err != nil {
		// Advisory only: a cache write failure must not block the handshake
		// decision, which is already correct from the store lookup above.
		return revoked, nil
	}
	return revoked, nil
}

// Revoke durably marks credential as revoked and warms the cache so the
// next handshake attempt is rejected without waiting on the store.
func (c *RevocationCache) Revoke(ctx context.Context, credential string, expiresAt time.Time) error {
	if err := c.repo.InsertRevokedCredential(ctx, store.RevokedCredential{Credential: credential, ExpiresAt: expiresAt}); err != nil {
		return fmt.Errorf("inserting revoked credential: %w", err)
	}
	if err := c.coord.Set(ctx, coordinator.RevokedKey(credential), "1", c.cacheTTL); err != nil {
		return fmt.Errorf("warming revocation cache: %w", err)
	}
	return nil
}
