// Package oidcauth resolves bearer tokens against a county identity provider
// using OIDC. The token is verified against the provider's signing keys and
// directory groups are mapped onto countysync roles.
package oidcauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
	apperrors "github.com/countyops/countysync/internal/errors"
	"github.com/countyops/countysync/internal/ports"
)

// GroupMapper maps directory group DNs to roles by membership. The most
// privileged matching group wins; no match yields the empty role, which the
// resolver rejects.
type GroupMapper struct {
	AdminGroup    string
	AssessorGroup string
	AuditorGroup  string
	StaffGroup    string
}

// Map implements ports.RoleMapper.
func (m GroupMapper) Map(groups []string) domainauth.Role {
	has := func(want string) bool {
		if want == "" {
			return false
		}
		for _, g := range groups {
			if g == want {
				return true
			}
		}
		return false
	}

	switch {
	case has(m.AdminGroup):
		return domainauth.RoleITAdmin
	case has(m.AssessorGroup):
		return domainauth.RoleAssessor
	case has(m.AuditorGroup):
		return domainauth.RoleAuditor
	case has(m.StaffGroup):
		return domainauth.RoleStaff
	default:
		return ""
	}
}

// Config holds configuration for the OIDC resolver.
type Config struct {
	ClientID     string
	DiscoveryURL string
	// UsernameClaim selects the claim carrying the stable username.
	// Defaults to "preferred_username".
	UsernameClaim string
	// GroupsClaim selects the claim carrying directory groups.
	// Defaults to "groups".
	GroupsClaim string
	Roles       ports.RoleMapper
	HTTPClient  *http.Client // Optional, defaults to a 30s-timeout client
}

// Resolver verifies bearer tokens and maps their claims to users.
type Resolver struct {
	verifier      *gooidc.IDTokenVerifier
	roles         ports.RoleMapper
	usernameClaim string
	groupsClaim   string
}

// NewResolver performs OIDC discovery once and builds the token verifier.
func NewResolver(ctx context.Context, cfg Config) (*Resolver, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if cfg.Roles == nil {
		return nil, errors.New("role mapper is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	// go-oidc expects the bare issuer, not the discovery document URL.
	issuer := strings.TrimSuffix(cfg.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	issuer = strings.TrimSuffix(issuer, "/")

	discoveryCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	provider, err := gooidc.NewProvider(discoveryCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	usernameClaim := cfg.UsernameClaim
	if usernameClaim == "" {
		usernameClaim = "preferred_username"
	}
	groupsClaim := cfg.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = "groups"
	}

	return &Resolver{
		verifier:      provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		roles:         cfg.Roles,
		usernameClaim: usernameClaim,
		groupsClaim:   groupsClaim,
	}, nil
}

// Resolve verifies the token signature, expiry and audience, then maps the
// username and group claims to a user.
func (r *Resolver) Resolve(ctx context.Context, credential string) (domainauth.User, error) {
	if credential == "" {
		return domainauth.User{}, apperrors.Unauthorized("credential is required")
	}

	token, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return domainauth.User{}, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "token verification failed")
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return domainauth.User{}, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "decode token claims")
	}

	username, _ := claims[r.usernameClaim].(string)
	if username == "" {
		// Fall back to the subject so a misconfigured claim name still
		// yields a stable identity.
		username = token.Subject
	}
	if username == "" {
		return domainauth.User{}, apperrors.Unauthorized("token carries no usable username claim")
	}

	role := r.roles.Map(extractGroups(claims, r.groupsClaim))
	if role == "" {
		return domainauth.User{}, apperrors.Unauthorized("no countysync role mapped for token groups")
	}

	return domainauth.User{Username: username, Role: role}, nil
}

func extractGroups(claims map[string]any, claim string) []string {
	raw, ok := claims[claim].([]any)
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(raw))
	for _, g := range raw {
		if s, ok := g.(string); ok {
			groups = append(groups, s)
		}
	}
	return groups
}
