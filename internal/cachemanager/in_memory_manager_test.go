package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type compiledPattern struct {
	Source string
	Groups int
}

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

func TestInMemoryCacheManager_GetExistingValue_StructType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, compiledPattern]("patterns", DefaultExpiration, DefaultCleanupInterval)
	want := compiledPattern{Source: `\*/`, Groups: 1}
	cache.Set(context.Background(), `\*/`, want, DefaultExpiration)

	got, ok := cache.Get(context.Background(), `\*/`)
	require.True(t, ok)
	require.Equal(t, want, got)
	require.Equal(t, 1, cache.Len())
}

func TestInMemoryCacheManager_GetMissing(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("contents", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "/tmp/a.js")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithExistingInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("contents", DefaultExpiration, DefaultCleanupInterval)

	cache.cache.Set("/tmp/a.js", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "/tmp/a.js")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_TypedKeys(t *testing.T) {
	type path string
	cache := NewInMemoryCacheManager[path, []byte]("contents", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), path("a.rb"), []byte("#!/usr/bin/env ruby"), DefaultExpiration)

	got, ok := cache.Get(context.Background(), path("a.rb"))
	require.True(t, ok)
	require.Equal(t, "#!/usr/bin/env ruby", string(got))
}

func TestInMemoryCacheManager_Expiry(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("contents", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "k", "v", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_GetWithRefresh(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("contents", DefaultExpiration, DefaultCleanupInterval)

	_, ok := cache.GetWithRefresh(context.Background(), "k", time.Hour)
	require.False(t, ok)

	cache.Set(context.Background(), "k", "v", DefaultExpiration)
	got, ok := cache.GetWithRefresh(context.Background(), "k", time.Hour)
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("contents", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	require.NoError(t, cache.Delete(ctx))

	cache.Set(ctx, "a", "1", DefaultExpiration)
	cache.Set(ctx, "b", "2", DefaultExpiration)
	require.NoError(t, cache.Delete(ctx, "a"))

	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "b")
	require.True(t, ok)

	require.NoError(t, cache.Flush(ctx))
	require.Equal(t, 0, cache.Len())
}
