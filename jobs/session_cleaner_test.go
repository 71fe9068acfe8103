package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/laundryhub/laundry-api/tokens"
)

type fakeTokenCleaner struct {
	calls   atomic.Int32
	removed int64
	err     error
}

func (f *fakeTokenCleaner) CleanupExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return f.removed, f.err
}

func TestSessionCleaner_RunOnce(t *testing.T) {
	t.Run("removes tokens and prunes revocations", func(t *testing.T) {
		store := tokens.NewMemoryRevocationStore()
		ctx := context.Background()
		assert.NoError(t, store.Revoke(ctx, "stale", time.Now().Add(10*time.Millisecond)))
		assert.NoError(t, store.Revoke(ctx, "live", time.Now().Add(time.Hour)))
		time.Sleep(20 * time.Millisecond)

		cleaner := &fakeTokenCleaner{removed: 3}
		c := NewSessionCleaner(cleaner, store, time.Hour, zap.NewNop())

		removed, pruned := c.RunOnce(ctx)
		assert.Equal(t, int64(3), removed)
		assert.Equal(t, 1, pruned)

		revoked, err := store.IsRevoked(ctx, "live")
		assert.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("token cleanup failure still prunes", func(t *testing.T) {
		store := tokens.NewMemoryRevocationStore()
		assert.NoError(t, store.Revoke(context.Background(), "stale", time.Now().Add(10*time.Millisecond)))
		time.Sleep(20 * time.Millisecond)

		c := NewSessionCleaner(&fakeTokenCleaner{err: errors.New("db down")}, store, time.Hour, zap.NewNop())

		removed, pruned := c.RunOnce(context.Background())
		assert.Zero(t, removed)
		assert.Equal(t, 1, pruned)
	})

	t.Run("nil pruner", func(t *testing.T) {
		c := NewSessionCleaner(&fakeTokenCleaner{removed: 1}, nil, 0, zap.NewNop())
		removed, pruned := c.RunOnce(context.Background())
		assert.Equal(t, int64(1), removed)
		assert.Zero(t, pruned)
		assert.Equal(t, time.Hour, c.interval)
	})
}

func TestSessionCleaner_StartStop(t *testing.T) {
	cleaner := &fakeTokenCleaner{}
	c := NewSessionCleaner(cleaner, nil, time.Hour, zap.NewNop())

	c.Start()
	c.Start()
	c.Stop()
	c.Stop()

	assert.Equal(t, int32(1), cleaner.calls.Load())
}

func TestSessionCleaner_StopWithoutStart(t *testing.T) {
	c := NewSessionCleaner(&fakeTokenCleaner{}, nil, time.Hour, zap.NewNop())
	c.Stop()
}
