package cache_test

import (
	"hlsrecd/internal/cache"
	"hlsrecd/internal/logger"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestCache_Unchanged(t *testing.T) {
	mc := cache.New(logger.Nop(), nil, time.Hour, 0)

	assert.False(t, mc.Unchanged("a", "#EXTM3U\n1"))
	assert.False(t, mc.Unchanged("a", "#EXTM3U\n1"), "unchanged must not store")

	mc.Set("a", "#EXTM3U\n1")
	assert.True(t, mc.Unchanged("a", "#EXTM3U\n1"))
	assert.False(t, mc.Unchanged("a", "#EXTM3U\n2"))
	mc.Set("a", "#EXTM3U\n2")
	mc.Set("b", "#EXTM3U\n2")

	text, ok := mc.Get("a")
	require.True(t, ok)
	assert.Equal(t, "#EXTM3U\n2", text)
	assert.Equal(t, 2, mc.Len())
}

func TestManifestCache_EvictsInactive(t *testing.T) {
	var mu sync.Mutex
	active := map[string]struct{}{"keep": {}}
	provider := func() map[string]struct{} {
		mu.Lock()
		defer mu.Unlock()
		return active
	}

	mc := cache.New(logger.Nop(), provider, time.Hour, 0)
	mc.Set("keep", "1")
	mc.Set("drop", "2")

	mc.RunEviction()
	_, ok := mc.Get("keep")
	assert.True(t, ok)
	_, ok = mc.Get("drop")
	assert.False(t, ok)
}

func TestManifestCache_EvictsByAge(t *testing.T) {
	mc := cache.New(logger.Nop(), nil, 5*time.Millisecond, 10*time.Millisecond)
	mc.Set("old", "1")

	mc.Start()
	defer mc.Stop()

	assert.Eventually(t, func() bool {
		return mc.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
