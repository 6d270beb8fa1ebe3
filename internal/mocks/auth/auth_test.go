package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/countyops/countysync/internal/adapters/redisauth"
	domainauth "github.com/countyops/countysync/internal/domain/auth"
	apperrors "github.com/countyops/countysync/internal/errors"
)

func TestMockResolver_TableLookup(t *testing.T) {
	resolver := NewMockResolver(map[string]domainauth.User{
		"tok-1": {Username: "mlopez", Role: domainauth.RoleAssessor},
	})
	ctx := context.Background()

	user, err := resolver.Resolve(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "mlopez", user.Username)
	assert.Equal(t, domainauth.RoleAssessor, user.Role)

	_, err = resolver.Resolve(ctx, "unknown")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err))

	assert.Equal(t, 1, resolver.Calls("tok-1"))
	assert.Equal(t, 1, resolver.Calls("unknown"))
	assert.Equal(t, 0, resolver.Calls("never-seen"))
}

func TestMockResolver_ResolveFuncOverride(t *testing.T) {
	wantErr := errors.New("directory offline")
	resolver := NewMockResolver(nil)
	resolver.ResolveFunc = func(context.Context, string) (domainauth.User, error) {
		return domainauth.User{}, wantErr
	}

	_, err := resolver.Resolve(context.Background(), "tok-1")
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, resolver.Calls("tok-1"), "override bypasses call tracking")
}

func TestMemoryIdentityCache_RoundTrip(t *testing.T) {
	cache := NewMemoryIdentityCache()
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, ok)

	user := domainauth.User{Username: "rpatel", Role: domainauth.RoleITAdmin}
	require.NoError(t, cache.Put(ctx, "tok-1", user))

	got, ok, err := cache.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user, got)
	assert.Equal(t, 1, cache.Len())

	require.Error(t, cache.Put(ctx, "", user))
}

func TestMemoryIdentityCache_WithCachingResolver(t *testing.T) {
	inner := NewMockResolver(map[string]domainauth.User{
		"tok-1": {Username: "asmith", Role: domainauth.RoleAuditor},
	})
	cache := NewMemoryIdentityCache()
	resolver := redisauth.NewCachingResolver(inner, cache)
	ctx := context.Background()

	for range 3 {
		user, err := resolver.Resolve(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "asmith", user.Username)
	}
	assert.Equal(t, 1, inner.Calls("tok-1"), "subsequent lookups served from cache")
}

func TestMemoryIdentityCache_FailureDegradesToResolver(t *testing.T) {
	inner := NewMockResolver(map[string]domainauth.User{
		"tok-1": {Username: "jchen", Role: domainauth.RoleStaff},
	})
	cache := NewMemoryIdentityCache()
	cache.GetErr = errors.New("cache backend down")
	cache.PutErr = errors.New("cache backend down")
	resolver := redisauth.NewCachingResolver(inner, cache)
	ctx := context.Background()

	for range 2 {
		user, err := resolver.Resolve(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "jchen", user.Username)
	}
	assert.Equal(t, 2, inner.Calls("tok-1"), "every lookup hits the resolver when the cache fails")
}
