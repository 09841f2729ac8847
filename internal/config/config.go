// Package config loads the gateway's process bootstrap configuration
// (spec §6's "CLI/env surface (thin)"): the handful of values the process
// needs before it can even build the configuration collaborator —
// listen address, timeouts, CORS, and the load-balance strategy.
//
// Grounded on the teacher's internal/infrastructure/config.Load: a single
// viper.Viper reading config.yaml with defaults set first, then a
// GATEWAY_-prefixed environment override layer, then Unmarshal into a
// typed struct.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// LoadBalanceStrategy is one of the three balancer policies spec §4.3
// names.
type LoadBalanceStrategy string

const (
	StrategyRoundRobin LoadBalanceStrategy = "round-robin"
	StrategyFillFirst   LoadBalanceStrategy = "fill-first"
	StrategyFailover    LoadBalanceStrategy = "failover"
)

// Config is the process bootstrap configuration (spec §6).
type Config struct {
	Port                 int                 `mapstructure:"port"`
	Host                 string              `mapstructure:"host"`
	TimeoutMS            int                 `mapstructure:"timeout_ms"`
	MaxConnections        int                 `mapstructure:"max_connections"`
	CORSEnabled           bool                `mapstructure:"cors_enabled"`
	CORSOrigin            string              `mapstructure:"cors_origin"`
	LoadBalanceStrategy   LoadBalanceStrategy `mapstructure:"load_balance_strategy"`
	ConfigFile            string              `mapstructure:"config_file"`
	LogLevel              string              `mapstructure:"log_level"`
	LogFormat             string              `mapstructure:"log_format"`
}

// Timeout returns TimeoutMS as a time.Duration for direct use by the
// forwarder's per-request deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Load reads config.yaml (if present) at path, seeds every default, and
// applies GATEWAY_* environment overrides (e.g. GATEWAY_PORT=9000).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Missing config.yaml is not fatal — defaults plus env vars are a
		// complete, valid configuration for a fresh install.
	}

	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.ConfigFile = path
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("timeout_ms", 120000)
	v.SetDefault("max_connections", 1000)
	v.SetDefault("cors_enabled", false)
	v.SetDefault("cors_origin", "*")
	v.SetDefault("load_balance_strategy", string(StrategyRoundRobin))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}
