// Package lock provides the per-auction mutual exclusion the bid pipeline
// uses to serialize concurrent bids on the same auction (spec §4.1).
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riftauction/auctiond/internal/coordinator"
)

// ErrLockUnavailable is returned when acquisition fails because another
// holder already owns the lock. It is not retried inside the package; the
// caller (bid pipeline) surfaces it to the client as a transient error.
var ErrLockUnavailable = errors.New("lock unavailable")

// Service provides acquire/release/with over a coordinator-backed lock
// keyed by auctionId.
type Service struct {
	coord coordinator.Coordinator
}

// New constructs a lock Service.
func New(coord coordinator.Coordinator) *Service {
	return &Service{coord: coord}
}

// Acquire atomically sets lock:bid:{auctionId} to a fresh random token with
// the given ttl, only if absent. ok=false (no error) means another holder
// has the lock; err wraps coordinator I/O failure.
func (s *Service) Acquire(ctx context.Context, auctionID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = s.coord.SetNX(ctx, coordinator.LockKey(auctionID), token, ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquiring lock for auction %s: %w", auctionID, err)
	}
	return token, ok, nil
}

// Release compares the stored value to token and deletes only on match,
// atomically. Releasing a token that does not match the current holder (for
// example after the lock's TTL has already expired and a new holder
// acquired it) is a safe no-op.
func (s *Service) Release(ctx context.Context, auctionID, token string) error {
	_, err := s.coord.CompareAndDelete(ctx, coordinator.LockKey(auctionID), token)
	if err != nil {
		return fmt.Errorf("releasing lock for auction %s: %w", auctionID, err)
	}
	return nil
}

// With performs structured acquisition: it acquires the lock, guarantees
// Release runs on every exit path of fn (normal return or panic), and
// returns fn's result. If acquisition fails, fn is not invoked: With
// returns ErrLockUnavailable when another holder owns the lock, or the
// wrapped coordinator error when the coordinator call itself failed.
func With[T any](ctx context.Context, s *Service, auctionID string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (result T, err error) {
	token, ok, err := s.Acquire(ctx, auctionID, ttl)
	if err != nil {
		return result, err
	}
	if !ok {
		return result, ErrLockUnavailable
	}

	defer func() {
		releaseErr := s.Release(context.WithoutCancel(ctx), auctionID, token)
		if r := recover(); r != nil {
			panic(r)
		}
		if err == nil && releaseErr != nil {
			err = releaseErr
		}
	}()

	return fn(ctx)
}
