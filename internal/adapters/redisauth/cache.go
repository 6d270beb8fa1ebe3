// Package redisauth caches resolved identities in Redis so OIDC verification
// or directory lookups are not repeated on every request with the same
// credential.
package redisauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
	"github.com/countyops/countysync/internal/ports"
)

const defaultTTL = 5 * time.Minute

// IdentityCache is a Redis-backed ports.IdentityCache. Credentials are hashed
// before use as keys so bearer tokens never appear in Redis keyspace dumps.
type IdentityCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewIdentityCache creates a Redis identity cache with the default key prefix
// and TTL.
func NewIdentityCache(client redis.UniversalClient) *IdentityCache {
	return &IdentityCache{
		client: client,
		prefix: "identity:",
		ttl:    defaultTTL,
	}
}

// NewIdentityCacheWithTTL creates a Redis identity cache with a custom entry
// lifetime. Non-positive ttl falls back to the default.
func NewIdentityCacheWithTTL(client redis.UniversalClient, ttl time.Duration) *IdentityCache {
	c := NewIdentityCache(client)
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

func (c *IdentityCache) key(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached user for the credential, if present.
func (c *IdentityCache) Get(ctx context.Context, credential string) (domainauth.User, bool, error) {
	if credential == "" {
		return domainauth.User{}, false, nil
	}

	data, err := c.client.Get(ctx, c.key(credential)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.User{}, false, nil
		}
		return domainauth.User{}, false, fmt.Errorf("redis get: %w", err)
	}

	var user domainauth.User
	if unmarshalErr := json.Unmarshal([]byte(data), &user); unmarshalErr != nil {
		return domainauth.User{}, false, fmt.Errorf("unmarshal cached identity: %w", unmarshalErr)
	}
	return user, true, nil
}

// Put stores the resolved user under the credential's hash for the cache TTL.
func (c *IdentityCache) Put(ctx context.Context, credential string, user domainauth.User) error {
	if credential == "" {
		return errors.New("credential cannot be empty")
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return c.client.Set(ctx, c.key(credential), data, c.ttl).Err()
}

// CachingResolver wraps an IdentityResolver with an IdentityCache. Cache
// failures degrade to resolving directly; they never fail the request.
type CachingResolver struct {
	inner ports.IdentityResolver
	cache ports.IdentityCache
}

// NewCachingResolver wraps inner with cache.
func NewCachingResolver(inner ports.IdentityResolver, cache ports.IdentityCache) *CachingResolver {
	return &CachingResolver{inner: inner, cache: cache}
}

// Resolve implements ports.IdentityResolver.
func (r *CachingResolver) Resolve(ctx context.Context, credential string) (domainauth.User, error) {
	if user, ok, err := r.cache.Get(ctx, credential); err == nil && ok {
		return user, nil
	}

	user, err := r.inner.Resolve(ctx, credential)
	if err != nil {
		return domainauth.User{}, err
	}

	// Failed writes only cost a future lookup; the identity is already
	// resolved.
	_ = r.cache.Put(ctx, credential, user)
	return user, nil
}
