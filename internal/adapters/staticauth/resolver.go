// Package staticauth resolves bearer tokens against a static table loaded
// from configuration. It serves development, tests and small air-gapped
// deployments; production wiring points the same port at OIDC introspection.
package staticauth

import (
	"context"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
	apperrors "github.com/countyops/countysync/internal/errors"
)

// Resolver maps tokens to users via an immutable table.
type Resolver struct {
	users map[string]domainauth.User
}

// NewResolver builds a resolver from a token-to-user table. The table is
// copied; later mutation of the argument has no effect.
func NewResolver(tokens map[string]domainauth.User) *Resolver {
	users := make(map[string]domainauth.User, len(tokens))
	for tok, u := range tokens {
		users[tok] = u
	}
	return &Resolver{users: users}
}

// Resolve returns the user for the credential or an Unauthorized error.
func (r *Resolver) Resolve(_ context.Context, credential string) (domainauth.User, error) {
	if credential == "" {
		return domainauth.User{}, apperrors.Unauthorized("credential is required")
	}
	u, ok := r.users[credential]
	if !ok {
		return domainauth.User{}, apperrors.Unauthorized("unknown credential")
	}
	return u, nil
}
