package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaseAccelerator posts a Redis advisory marker (SET NX PX) for each row
// claimed through the row-level SELECT ... FOR UPDATE SKIP LOCKED and
// clears it when the lease is released. It is never the source of truth:
// the row lease in Postgres is authoritative, Claim does not read the
// marker before its SQL, and Claim behaves the same if redisAddr is empty
// and no accelerator is configured.
type LeaseAccelerator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLeaseAccelerator connects to addr. A zero-value addr is not valid;
// callers should simply not construct an accelerator when Redis isn't
// configured.
func NewLeaseAccelerator(addr string, ttl time.Duration) *LeaseAccelerator {
	return &LeaseAccelerator{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// TryAcquire attempts the advisory lock for key, returning true if acquired.
// On any Redis error it returns (true, err) so callers fail open to the
// row-level claim rather than blocking progress on an accelerator outage.
func (l *LeaseAccelerator) TryAcquire(ctx context.Context, key, processID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, "claim:"+key, processID, l.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("lease accelerator: %w", err)
	}
	return ok, nil
}

// Release drops the advisory lock if still held by processID.
func (l *LeaseAccelerator) Release(ctx context.Context, key, processID string) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	_, err := script.Run(ctx, l.client, []string{"claim:" + key}, processID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lease accelerator release: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (l *LeaseAccelerator) Close() error {
	return l.client.Close()
}
