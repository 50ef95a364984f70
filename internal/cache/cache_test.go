package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Score float64 `json:"score"`
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Now()

	var miss payload
	hit, err := c.Get(ctx, "chance:abc:1", &miss)
	require.NoError(t, err)
	assert.False(t, hit)

	won, err := c.Put(ctx, "chance:abc:1", payload{Score: 72.5}, now, time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	var got payload
	hit, err = c.Get(ctx, "chance:abc:1", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 72.5, got.Score)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	// computedAt in the past so the entry is already expired on read.
	stale := time.Now().Add(-2 * time.Hour)
	won, err := c.Put(ctx, "fit:snap:1", payload{Score: 80}, stale, time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	var got payload
	hit, err := c.Get(ctx, "fit:snap:1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryCASRejectsOlderWrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	newer := time.Now()
	older := newer.Add(-time.Minute)

	won, err := c.Put(ctx, "risk:1:2", payload{Score: 50}, newer, 0)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = c.Put(ctx, "risk:1:2", payload{Score: 10}, older, 0)
	require.NoError(t, err)
	assert.False(t, won)

	var got payload
	hit, err := c.Get(ctx, "risk:1:2", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 50.0, got.Score)
	assert.Equal(t, int64(1), c.Stats().CASConflicts)
}

func TestMemoryDeleteAndPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	now := time.Now()

	keys := []string{FitKey("snap-a", 1), FitKey("snap-a", 2), FitKey("snap-b", 1), RiskKey(7, 1)}
	for _, k := range keys {
		_, err := c.Put(ctx, k, payload{Score: 1}, now, 0)
		require.NoError(t, err)
	}

	require.NoError(t, c.Delete(ctx, RiskKey(7, 1)))
	var got payload
	hit, err := c.Get(ctx, RiskKey(7, 1), &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.DeletePrefix(ctx, SnapshotPrefix("snap-a")))
	hit, _ = c.Get(ctx, FitKey("snap-a", 1), &got)
	assert.False(t, hit)
	hit, _ = c.Get(ctx, FitKey("snap-a", 2), &got)
	assert.False(t, hit)

	// Other snapshot untouched.
	hit, err = c.Get(ctx, FitKey("snap-b", 1), &got)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "fit:snap:42", FitKey("snap", 42))
	assert.Equal(t, "chance:snap:42", ChanceKey("snap", 42))
	assert.Equal(t, "risk:7:42", RiskKey(7, 42))
	assert.Equal(t, "fit:snap:", SnapshotPrefix("snap"))
}
