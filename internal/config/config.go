// Package config loads the engine's configuration surface via
// spf13/viper, grounded on the sibling pi5-trading-system's
// internal/config/config.go, trimmed to the fields this core's
// components actually consume (§6 "Configuration surface", §10).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration consumed by the engine shell
// and forwarded to its components.
type Config struct {
	EngineName             string           `mapstructure:"engine_name"`
	InstanceID             string           `mapstructure:"instance_id"`
	EventQueueSize         int              `mapstructure:"event_queue_size"`
	HeartbeatIntervalSecs  int              `mapstructure:"heartbeat_interval_seconds"`
	Logging                LoggingConfig    `mapstructure:"logging"`
	Risk                   RiskLimitsConfig `mapstructure:"risk_limits"`
	Server                 ServerConfig     `mapstructure:"server"`
}

// LoggingConfig controls the zerolog.Logger the engine shell constructs
// and threads into every component.
type LoggingConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
	File   string `mapstructure:"log_file"`
}

// RiskLimitsConfig is the §4.4 "Configuration-driven construction"
// surface: the recognized keys the risk manager turns into rule
// instances.
type RiskLimitsConfig struct {
	PositionLimits         map[string]float64 `mapstructure:"position_limits"`
	MaxDrawdownPct         *float64           `mapstructure:"max_drawdown_pct"`
	DrawdownWindowDays     int                `mapstructure:"drawdown_window_days"`
	StrategyExposureLimits map[string]float64 `mapstructure:"strategy_exposure_limits"`
}

// ServerConfig configures the read-only HTTP surface (internal/api).
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine_name", "tradingcore")
	v.SetDefault("instance_id", "main")
	v.SetDefault("event_queue_size", 100000)
	v.SetDefault("heartbeat_interval_seconds", 5)
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("logging.log_format", "json")
	v.SetDefault("risk_limits.drawdown_window_days", 1)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
}

// Load reads configPath (YAML) via viper, applying defaults and
// TRADINGCORE_-prefixed environment overrides, and unmarshals into a
// Config. Reading files and binding the environment is itself an
// external-collaborator concern (spec §1); this is the one place in
// the module that touches it, mirroring the teacher's config.Load.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	v.SetEnvPrefix("TRADINGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}
