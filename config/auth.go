package config

import (
	"fmt"
	"strings"
	"time"

	domainauth "github.com/countyops/countysync/internal/domain/auth"
)

// AuthMode represents the identity resolution mode for the application.
type AuthMode string

const (
	// AuthModeStatic resolves credentials against a configured token table.
	// Intended for development and tests.
	AuthModeStatic AuthMode = "static"
	// AuthModeOIDC verifies bearer tokens against an OIDC provider.
	AuthModeOIDC AuthMode = "oidc"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "static", "oidc":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: static, oidc)", v)
	}
}

// OIDCConfig contains OIDC verifier configuration (used when Mode=oidc).
type OIDCConfig struct {
	ClientID      string `env:"CLIENT_ID"      envDefault:"countysync"`
	DiscoveryURL  string `env:"DISCOVERY_URL"`
	UsernameClaim string `env:"USERNAME_CLAIM" envDefault:"preferred_username"`
	GroupsClaim   string `env:"GROUPS_CLAIM"   envDefault:"groups"`

	// Directory group DNs mapped onto roles.
	AdminGroup    string `env:"ADMIN_GROUP"`
	AssessorGroup string `env:"ASSESSOR_GROUP"`
	AuditorGroup  string `env:"AUDITOR_GROUP"`
	StaffGroup    string `env:"STAFF_GROUP"`
}

// AuthConfig groups identity resolution and permission configuration.
type AuthConfig struct {
	// Mode determines which identity resolver to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"static"`

	// StaticTokens is the token table for Mode=static, entries formatted
	// "token:username:role" and separated by ";".
	StaticTokens []string `env:"AUTH_STATIC_TOKENS" envSeparator:";"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"AUTH_OIDC_"`

	// CacheEnabled caches resolved identities in Redis.
	CacheEnabled bool `env:"AUTH_CACHE_ENABLED" envDefault:"false"`
	// CacheTTL is the lifetime of a cached identity.
	CacheTTL time.Duration `env:"AUTH_CACHE_TTL" envDefault:"5m"`

	// PermMatrix optionally replaces the compiled-in permission matrix
	// wholesale with a JSON document: {"role": ["action", ...], ...}.
	PermMatrix string `env:"PERM_MATRIX"`
}

// ParseStaticTokens converts the configured token table into the resolver's
// credential map.
func (c AuthConfig) ParseStaticTokens() (map[string]domainauth.User, error) {
	users := make(map[string]domainauth.User, len(c.StaticTokens))
	for _, entry := range c.StaticTokens {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static token entry %q (want token:username:role)", entry)
		}

		var role domainauth.Role
		if err := role.UnmarshalText([]byte(parts[2])); err != nil {
			return nil, fmt.Errorf("static token entry %q: %w", entry, err)
		}

		token := strings.TrimSpace(parts[0])
		username := strings.TrimSpace(parts[1])
		if token == "" || username == "" {
			return nil, fmt.Errorf("invalid static token entry %q: token and username are required", entry)
		}
		if _, dup := users[token]; dup {
			return nil, fmt.Errorf("duplicate static token %q", token)
		}
		users[token] = domainauth.User{Username: username, Role: role}
	}
	return users, nil
}

// BuildMatrix returns the permission matrix: the PERM_MATRIX override when
// present, the compiled-in defaults otherwise.
func (c AuthConfig) BuildMatrix() (*domainauth.Matrix, error) {
	if strings.TrimSpace(c.PermMatrix) == "" {
		return domainauth.DefaultMatrix(), nil
	}
	matrix, err := domainauth.ParseMatrix([]byte(c.PermMatrix))
	if err != nil {
		return nil, fmt.Errorf("parse PERM_MATRIX: %w", err)
	}
	return matrix, nil
}
