package auth

// Package auth contains simple hand-written test doubles for identity ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
	apperrors "github.com/countyops/countysync/internal/errors"
	"github.com/countyops/countysync/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityResolver = (*MockResolver)(nil)
	_ ports.IdentityCache    = (*MemoryIdentityCache)(nil)
)

// MockResolver resolves credentials against a fixed table, tracking calls so
// tests can assert caching behavior. ResolveFunc overrides everything when set.
type MockResolver struct {
	ResolveFunc func(ctx context.Context, credential string) (domainauth.User, error)

	// Users maps bearer credentials to resolved users.
	Users map[string]domainauth.User

	mu    sync.Mutex
	calls map[string]int
}

// NewMockResolver creates a MockResolver over the given credential table.
func NewMockResolver(users map[string]domainauth.User) *MockResolver {
	return &MockResolver{
		Users: users,
		calls: make(map[string]int),
	}
}

func (m *MockResolver) Resolve(ctx context.Context, credential string) (domainauth.User, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, credential)
	}

	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[credential]++
	m.mu.Unlock()

	user, ok := m.Users[credential]
	if !ok {
		return domainauth.User{}, apperrors.Unauthorized("unrecognized credential")
	}
	return user, nil
}

// Calls reports how many times the given credential has been resolved.
func (m *MockResolver) Calls(credential string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[credential]
}

// MemoryIdentityCache is an in-memory identity cache for unit tests.
// GetErr and PutErr simulate a failing cache backend.
type MemoryIdentityCache struct {
	GetErr error
	PutErr error

	mu      sync.Mutex
	entries map[string]domainauth.User
}

// NewMemoryIdentityCache creates an empty in-memory identity cache.
func NewMemoryIdentityCache() *MemoryIdentityCache {
	return &MemoryIdentityCache{entries: make(map[string]domainauth.User)}
}

func (c *MemoryIdentityCache) Get(_ context.Context, credential string) (domainauth.User, bool, error) {
	if c.GetErr != nil {
		return domainauth.User{}, false, c.GetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.entries[credential]
	return user, ok, nil
}

func (c *MemoryIdentityCache) Put(_ context.Context, credential string, user domainauth.User) error {
	if c.PutErr != nil {
		return c.PutErr
	}
	if credential == "" {
		return errors.New("credential cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]domainauth.User)
	}
	c.entries[credential] = user
	return nil
}

// Len reports the number of cached identities.
func (c *MemoryIdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
