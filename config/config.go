// Package config loads the application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"library-circulation/library"
	"library-circulation/logging"
)

// Config holds all application configuration
type Config struct {
	Log     logging.Config
	Ledger  LedgerConfig
	Policy  library.Policy
	Seed    SeedConfig
	Catalog CatalogConfig
	Metrics MetricsConfig
}

// LedgerConfig locates the circulation journal. An empty Path disables it.
type LedgerConfig struct {
	Path string
}

// SeedConfig controls the demo bootstrap: an "admin" account and twenty
// sample items.
type SeedConfig struct {
	Demo          bool
	AdminPassword string
}

// CatalogConfig names a YAML catalog imported at startup.
type CatalogConfig struct {
	File string
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string
}

// Load reads configuration.
//
// Priority (highest to lowest):
// 1. Environment variables with LIBRARY_ prefix (e.g., LIBRARY_LEDGER_PATH)
// 2. the file at path, or library.{toml,yaml} in . or $HOME/.library
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("library")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.library")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LIBRARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	cfg := &Config{
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Ledger: LedgerConfig{
			Path: v.GetString("ledger.path"),
		},
		Policy: library.Policy{
			ReservationRequiresCard: v.GetBool("policy.reservation_requires_card"),
			DeleteMode:              library.DeleteMode(strings.ToLower(v.GetString("policy.delete_mode"))),
		},
		Seed: SeedConfig{
			Demo:          v.GetBool("seed.demo"),
			AdminPassword: v.GetString("seed.admin_password"),
		},
		Catalog: CatalogConfig{
			File: v.GetString("catalog.file"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := logging.DefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.format", def.Format)
	v.SetDefault("log.output", def.Output)
	v.SetDefault("ledger.path", "circulation.db")
	v.SetDefault("policy.reservation_requires_card", true)
	v.SetDefault("policy.delete_mode", string(library.DeleteRefuse))
	v.SetDefault("seed.demo", false)
	v.SetDefault("seed.admin_password", "Admin#123")
	v.SetDefault("catalog.file", "")
	v.SetDefault("metrics.addr", "")
}

func (c *Config) validate() error {
	switch c.Policy.DeleteMode {
	case library.DeleteRefuse, library.DeleteReconcile:
	default:
		return fmt.Errorf("policy.delete_mode must be %q or %q, got %q",
			library.DeleteRefuse, library.DeleteReconcile, c.Policy.DeleteMode)
	}
	if c.Seed.Demo && c.Seed.AdminPassword == "" {
		return fmt.Errorf("seed.admin_password is required when seed.demo is on")
	}
	return nil
}
