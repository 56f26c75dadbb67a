// Package config loads pgcdc's YAML configuration, mirroring the teacher's
// pkg/config/config.go viper-based loader: file discovery, PGCDC_-prefixed
// environment overrides, mapstructure-tagged decoding.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/edgeflare/pgcdc/pkg/runner"
)

// Config is the top-level shape of a pgcdc YAML file.
type Config struct {
	PG      PGConfig         `mapstructure:"pg"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	Slots   map[string]runner.SlotConfig `mapstructure:"slots"`
}

// PGConfig names the Postgres connections the host application opens on
// the Runner's behalf, per §5's resource model: the Runner is handed open
// connections through its New*Conn factories, never a connection string it
// parses itself. ConnString is the one piece of host-side wiring a CLI
// entry point needs to build those factories.
type PGConfig struct {
	ConnString string `mapstructure:"conn_string"`
}

// MetricsConfig configures pkg/metrics.StartPrometheusServer.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

func (c Config) RunnerConfig() runner.Config {
	return runner.Config{Slots: c.Slots}
}

// Load reads cfgFile, or discovers "pgcdc.yaml" in $HOME/.config and the
// working directory if cfgFile is empty, then applies PGCDC_-prefixed
// environment variable overrides.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcdc")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGCDC")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}
