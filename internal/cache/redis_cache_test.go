package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churn-insight/internal/logger"
)

type summary struct {
	Segment   string `json:"segment"`
	Customers int    `json:"customers"`
}

func TestLocalSetGet(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager("", time.Minute, logger.Nop())
	assert.False(t, cm.IsAvailable())

	var got []summary
	found, err := cm.Get(ctx, PrefixSegments+"all", &got)
	require.NoError(t, err)
	assert.False(t, found)

	want := []summary{{Segment: "VIP", Customers: 12}}
	require.NoError(t, cm.Set(ctx, PrefixSegments+"all", want))
	found, err = cm.Get(ctx, PrefixSegments+"all", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, cm.Delete(ctx, PrefixSegments+"all"))
	found, _ = cm.Get(ctx, PrefixSegments+"all", &got)
	assert.False(t, found)
}

func TestInvalidateDropsDashboardKeysOnly(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager("", time.Minute, logger.Nop())
	require.NoError(t, cm.Set(ctx, PrefixSegments+"all", 1))
	require.NoError(t, cm.Set(ctx, PrefixCustomers+"42", 2))
	require.NoError(t, cm.Set(ctx, "other", 3))

	cm.Invalidate(ctx, "pipeline_finished", "run-1")

	var v int
	found, _ := cm.Get(ctx, PrefixSegments+"all", &v)
	assert.False(t, found)
	found, _ = cm.Get(ctx, PrefixCustomers+"42", &v)
	assert.False(t, found)
	found, _ = cm.Get(ctx, "other", &v)
	assert.True(t, found)
}

func TestHandleUpdateMessage(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager("", time.Minute, logger.Nop())
	require.NoError(t, cm.Set(ctx, PrefixRuns+"latest", "x"))

	cm.handleUpdateMessage("not json")
	var v string
	found, _ := cm.Get(ctx, PrefixRuns+"latest", &v)
	assert.True(t, found)

	cm.handleUpdateMessage(`{"action":"rfm_built","timestamp":1}`)
	found, _ = cm.Get(ctx, PrefixRuns+"latest", &v)
	assert.False(t, found)
}

func TestLocalIncrementWindow(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager("", time.Minute, logger.Nop())
	key := PrefixRateLimit + "10.0.0.1"

	for want := int64(1); want <= 3; want++ {
		n, err := cm.Increment(ctx, key, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	time.Sleep(80 * time.Millisecond)
	n, err := cm.Increment(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUnreachableRedisFallsBackToLocal(t *testing.T) {
	cm := NewCacheManager("redis://127.0.0.1:1/0", time.Minute, logger.Nop())
	defer cm.Close()
	assert.False(t, cm.IsAvailable())
	require.NoError(t, cm.Set(context.Background(), "k", "v"))
}
