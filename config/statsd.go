package config

// StatsdConfig controls job lifecycle metric emission.
type StatsdConfig struct {
	// Enabled turns metric emission on. Disabled clients drop everything.
	Enabled bool `env:"ENABLED" envDefault:"false"`
	// Address is the UDP endpoint of a StatsD-compatible collector.
	Address string `env:"ADDRESS" envDefault:"localhost:8125"`
	// Prefix is prepended to every metric name.
	Prefix string `env:"PREFIX" envDefault:"countysync"`
}
