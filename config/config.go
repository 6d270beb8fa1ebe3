// Package config defines the environment-driven configuration of the
// countysync service, parsed with github.com/caarlos0/env.
package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files:
//   - auth.go: identity resolution and permission matrix
//   - database.go: Postgres and Redis connections
//   - http.go: HTTP server
//   - plugins.go: plugin execution, store selection and the lease reaper
type AppConfig struct {
	// IsDev loosens guardrails meant for production (e.g. static auth warnings).
	IsDev bool `env:"DEV" envDefault:"false"`

	Auth AuthConfig

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP HTTPConfig

	Store   StoreConfig
	Plugins PluginConfig
	Reaper  ReaperConfig
	Statsd  StatsdConfig `envPrefix:"STATSD_"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call it after env parsing, before wiring.
func (c *AppConfig) Sanitize() {
	c.Plugins.Sanitize()
	c.Reaper.Sanitize()
}
