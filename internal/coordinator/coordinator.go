// Package coordinator wraps the external key/value service (spec's
// "Coordinator" collaborator) that provides compare-and-set-with-TTL and
// atomic scripted eval, backed by Redis.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps any I/O failure talking to the coordinator, surfaced
// by callers as CoordinatorUnavailable per spec §7.
var ErrUnavailable = errors.New("coordinator unavailable")

// Coordinator is the narrow interface the lock service and credential cache
// consume. It intentionally does not expose the underlying Redis client so
// that callers cannot reach for arbitrary commands outside this contract.
type Coordinator interface {
	// SetNX sets key to value with the given ttl only if key is absent.
	// Returns true if the set happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if its current value equals expected,
	// atomically (scripted eval). Returns true if the delete happened.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Set writes key unconditionally with the given ttl (advisory caches).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reads key, returning ok=false on miss.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Ping verifies connectivity, for health checks.
	Ping(ctx context.Context) error
}

// compareAndDeleteScript atomically checks the stored value before deleting,
// the same CAS-via-EVAL idiom used for distributed lock release.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisCoordinator implements Coordinator against a real Redis instance.
type RedisCoordinator struct {
	client *redis.Client
}

// NewRedisCoordinator connects to COORDINATOR_URL (a redis:// URL).
func NewRedisCoordinator(url string) (*RedisCoordinator, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing coordinator url: %w", err)
	}
	return &RedisCoordinator{client: redis.NewClient(opts)}, nil
}

func (c *RedisCoordinator) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

func (c *RedisCoordinator) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, c.client, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("%w: compare-and-delete %s: %v", ErrUnavailable, key, err)
	}
	return res == 1, nil
}

func (c *RedisCoordinator) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (c *RedisCoordinator) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return val, true, nil
}

func (c *RedisCoordinator) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCoordinator) Close() error {
	return c.client.Close()
}

// Key builders for the coordinator keys enumerated in spec §6.

func LockKey(auctionID string) string            { return "lock:bid:" + auctionID }
func CurrentBidKey(auctionID string) string       { return "auction:current-bid:" + auctionID }
func HighestBidderKey(auctionID string) string    { return "auction:highest-bidder:" + auctionID }
func RevokedKey(credentialString string) string   { return "revoked:" + credentialString }
