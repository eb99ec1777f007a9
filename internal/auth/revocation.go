package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationRegistry tracks tokens that must no longer be honored even
// though they verify and have not expired. Implementations are safe for
// concurrent use.
type RevocationRegistry interface {
	// Revoke marks a token revoked until its natural expiry. Idempotent.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	// IsRevoked reports registry membership.
	IsRevoked(ctx context.Context, token string) (bool, error)
	// Sweep drops entries for tokens that have already expired; such
	// tokens fail the expiry check anyway.
	Sweep(ctx context.Context, now time.Time)
}

// sweepEvery bounds how many inserts happen between lazy sweeps.
const sweepEvery = 128

// MemoryRevocationRegistry is the in-process implementation, a mutex-guarded
// map from token string to the token's expiry.
type MemoryRevocationRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	inserts int
	now     func() time.Time
}

// NewMemoryRevocationRegistry builds an empty registry. It is created at
// startup and lives for the process lifetime.
func NewMemoryRevocationRegistry() *MemoryRevocationRegistry {
	return &MemoryRevocationRegistry{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke inserts the token. Entries for already-expired tokens are dropped
// on the way in.
func (r *MemoryRevocationRegistry) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[token] = expiresAt
	r.inserts++
	if r.inserts >= sweepEvery {
		r.sweepLocked(r.now())
		r.inserts = 0
	}
	return nil
}

// IsRevoked reports membership.
func (r *MemoryRevocationRegistry) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[token]
	return ok, nil
}

// Sweep removes entries whose token expired at or before now.
func (r *MemoryRevocationRegistry) Sweep(_ context.Context, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
}

func (r *MemoryRevocationRegistry) sweepLocked(now time.Time) {
	for token, expiresAt := range r.entries {
		if !now.Before(expiresAt) {
			delete(r.entries, token)
		}
	}
}

// Len reports the current entry count.
func (r *MemoryRevocationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartSweeper runs Sweep on the given interval until ctx is canceled.
func (r *MemoryRevocationRegistry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.Sweep(ctx, now)
			}
		}
	}()
}

const revokedKeyPrefix = "auth:revoked:"

// RedisRevocationRegistry stores revocations in Redis with a TTL equal to
// the remaining token lifetime, so eviction needs no sweeping of our own.
type RedisRevocationRegistry struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRevocationRegistry wraps the given client.
func NewRedisRevocationRegistry(client *redis.Client) *RedisRevocationRegistry {
	return &RedisRevocationRegistry{client: client, now: time.Now}
}

// Revoke stores the marker with the remaining lifetime as TTL.
func (r *RedisRevocationRegistry) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedKeyPrefix+token, "1", ttl).Err()
}

// IsRevoked reports membership. Errors surface so the caller can fail
// closed rather than honor a possibly revoked token.
func (r *RedisRevocationRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Sweep is a no-op; Redis TTLs expire entries on their own.
func (r *RedisRevocationRegistry) Sweep(context.Context, time.Time) {}
