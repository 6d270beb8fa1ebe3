package httpx

import (
	"context"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
)

type contextKey string

const userContextKey contextKey = "countysync.user"

// SetUserInContext stores the resolved user in the request context.
func SetUserInContext(ctx context.Context, user domainauth.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the resolved user, if the identity middleware ran.
func UserFromContext(ctx context.Context) (domainauth.User, bool) {
	user, ok := ctx.Value(userContextKey).(domainauth.User)
	return user, ok
}
