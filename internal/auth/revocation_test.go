package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRevokeIsIdempotent(t *testing.T) {
	registry := NewMemoryRevocationRegistry()
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		if err := registry.Revoke(ctx, "tok", expiry); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
	}
	if n := registry.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
	revoked, err := registry.IsRevoked(ctx, "tok")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("token not revoked after Revoke")
	}

	if revoked, _ := registry.IsRevoked(ctx, "other"); revoked {
		t.Error("unrelated token reported revoked")
	}
}

func TestMemorySweepDropsExpiredEntries(t *testing.T) {
	registry := NewMemoryRevocationRegistry()
	ctx := context.Background()
	now := time.Now()

	registry.Revoke(ctx, "live", now.Add(time.Hour))
	registry.Revoke(ctx, "dead", now.Add(-time.Minute))
	registry.Revoke(ctx, "boundary", now)

	registry.Sweep(ctx, now)

	if revoked, _ := registry.IsRevoked(ctx, "live"); !revoked {
		t.Error("unexpired entry swept")
	}
	if revoked, _ := registry.IsRevoked(ctx, "dead"); revoked {
		t.Error("expired entry survived sweep")
	}
	if revoked, _ := registry.IsRevoked(ctx, "boundary"); revoked {
		t.Error("entry expiring exactly now survived sweep")
	}
	if n := registry.Len(); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestMemoryLazySweepBoundsGrowth(t *testing.T) {
	registry := NewMemoryRevocationRegistry()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	for i := 0; i < sweepEvery*2; i++ {
		registry.Revoke(ctx, fmt.Sprintf("tok-%d", i), past)
	}
	if n := registry.Len(); n >= sweepEvery*2 {
		t.Errorf("Len = %d, expired entries never evicted", n)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	registry := NewMemoryRevocationRegistry()
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				token := fmt.Sprintf("tok-%d-%d", g, i)
				registry.Revoke(ctx, token, expiry)
				if revoked, err := registry.IsRevoked(ctx, token); err != nil || !revoked {
					t.Errorf("token %s lost: revoked=%v err=%v", token, revoked, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

func newTestRedisRegistry(t *testing.T) *RedisRevocationRegistry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRevocationRegistry(client)
}

func TestRedisRevokeAndLookup(t *testing.T) {
	registry := newTestRedisRegistry(t)
	ctx := context.Background()

	if err := registry.Revoke(ctx, "tok", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := registry.IsRevoked(ctx, "tok")
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Error("token not revoked after Revoke")
	}
	if revoked, _ := registry.IsRevoked(ctx, "other"); revoked {
		t.Error("unrelated token reported revoked")
	}
}

func TestRedisRevokeSkipsExpiredToken(t *testing.T) {
	registry := newTestRedisRegistry(t)
	ctx := context.Background()

	// A token already past expiry needs no tracking; it fails the expiry
	// check anyway.
	if err := registry.Revoke(ctx, "tok", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, _ := registry.IsRevoked(ctx, "tok"); revoked {
		t.Error("expired token stored in registry")
	}
}
