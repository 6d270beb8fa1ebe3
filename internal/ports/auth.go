// Package ports defines interfaces (hexagonal ports) for identity resolution.
// Implementations live in internal/adapters; orchestration in internal/service.
package ports

import (
	"context"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
)

// IdentityResolver maps an opaque bearer credential to an authenticated user.
//
// Implementations return an Unauthorized error when the credential is absent
// from the backing identity source. Resolution has no side effects.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (domainauth.User, error)
}

// IdentityCache stores resolved identities keyed by credential so slow
// directory or introspection lookups are not repeated per request.
type IdentityCache interface {
	Get(ctx context.Context, credential string) (domainauth.User, bool, error)
	Put(ctx context.Context, credential string, user domainauth.User) error
}

// RoleMapper maps directory groups to application roles.
type RoleMapper interface {
	Map(groups []string) domainauth.Role
}
