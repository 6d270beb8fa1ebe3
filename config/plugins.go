package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreDriver selects the job record store backend.
type StoreDriver string

const (
	// StoreDriverMemory keeps job records in process memory.
	StoreDriverMemory StoreDriver = "memory"
	// StoreDriverPostgres keeps job records in Postgres.
	StoreDriverPostgres StoreDriver = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreDriver.
func (d *StoreDriver) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "memory", "postgres":
		*d = StoreDriver(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreDriver: %q (valid options: memory, postgres)", v)
	}
}

// StoreConfig selects and tunes the job record store.
type StoreConfig struct {
	Driver StoreDriver `env:"STORE_DRIVER" envDefault:"memory"`
}

// PluginConfig contains plugin execution configuration.
type PluginConfig struct {
	// ExecTimeout is the default execution budget for a single plugin run.
	// Individual plugins may declare a tighter budget.
	ExecTimeout time.Duration `env:"PLUGIN_EXEC_TIMEOUT" envDefault:"10m"`
}

// Sanitize applies guardrails to plugin configuration values.
func (c *PluginConfig) Sanitize() {
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 10 * time.Minute
	}
	if c.ExecTimeout < time.Second {
		c.ExecTimeout = time.Second
	}
}

// ReaperConfig contains lease reaper configuration.
type ReaperConfig struct {
	// Enabled controls whether the lease reaper runs at all.
	Enabled bool `env:"REAPER_ENABLED" envDefault:"true"`
	// Interval is how often overdue RUNNING jobs are swept.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`
}

// Sanitize applies guardrails to reaper configuration values.
func (c *ReaperConfig) Sanitize() {
	if c.Interval < time.Second {
		c.Interval = time.Second
	}
}
