// Package config loads server settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	PublicURL string `yaml:"public_url"`

	Gateway GatewayConfig `yaml:"gateway"`
}

// GatewayConfig tunes the websocket transport.
type GatewayConfig struct {
	PingInterval   Duration `yaml:"ping_interval"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	MaxMessageSize int64    `yaml:"max_message_size"`
}

// Duration lets yaml fields use "30s"-style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file or env overrides are
// present. Port 3001 on all interfaces matches the original demo server.
func Default() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     3001,
		LogLevel: "info",
		Gateway: GatewayConfig{
			PingInterval:   Duration(30 * time.Second),
			ReadTimeout:    Duration(60 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			MaxMessageSize: 4096,
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies env
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.PublicURL = getEnv("PUBLIC_URL", cfg.PublicURL)

	return cfg, nil
}

// Addr is the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
