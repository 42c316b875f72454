package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewLimiter(rdb)
}

func TestLimiterAllowsBurstUpToCapacity(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "key-a", 5)
		require.NoError(t, err)
		require.Truef(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d, err := l.Check(ctx, "key-a", 5)
	require.NoError(t, err)
	require.False(t, d.Allowed, "6th request should be denied at capacity 5")
}

func TestLimiterIsolatesKeys(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "tenant-a", 3)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Check(ctx, "tenant-b", 3)
	require.NoError(t, err)
	require.True(t, d.Allowed, "a separate key must have its own bucket")
}

func TestLimitsCapacityFor(t *testing.T) {
	limits := Limits{Free: 60, Pro: 600, Ent: 6000}

	require.Equal(t, 60, limits.CapacityFor(TierFree))
	require.Equal(t, 600, limits.CapacityFor(TierPro))
	require.Equal(t, 6000, limits.CapacityFor(TierEnt))
	require.Equal(t, 60, limits.CapacityFor(Tier("unknown")))
}
