// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/broker"
)

// Config represents the complete gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Broker   BrokerConfig   `yaml:"broker"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains the listener settings
type ServerConfig struct {
	// Address serves both the WebSocket endpoint and the REST API
	Address string `yaml:"address"`
	Timeout string `yaml:"timeout"`
}

// BrokerConfig contains the session broker settings
type BrokerConfig struct {
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	RequestTimeoutMs    int    `yaml:"request_timeout_ms"`
	MaxSessionsPerKey   int    `yaml:"max_sessions_per_key"`
	SelectionStrategy   string `yaml:"selection_strategy"` // "round-robin" or "random"
}

// DatabaseConfig contains the API key store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SecurityConfig contains security-related settings
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings for the admin API
type JWTConfig struct {
	SecretKey   string `yaml:"secret_key"`
	Issuer      string `yaml:"issuer"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig writes a configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: ":8080",
			Timeout: "15s",
		},
		Broker: BrokerConfig{
			HeartbeatIntervalMs: 30000,
			RequestTimeoutMs:    30000,
			MaxSessionsPerKey:   10,
			SelectionStrategy:   string(broker.StrategyRoundRobin),
		},
		Database: DatabaseConfig{
			Path: "gateway.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				SecretKey:   "change_me",
				Issuer:      "whatsapp-ws-extension-gateway",
				ExpiryHours: 24,
			},
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Security.JWT.SecretKey == "" {
		return fmt.Errorf("security.jwt.secret_key is required")
	}

	switch c.Broker.SelectionStrategy {
	case "", string(broker.StrategyRoundRobin), string(broker.StrategyRandom):
	default:
		return fmt.Errorf("broker.selection_strategy must be %q or %q",
			broker.StrategyRoundRobin, broker.StrategyRandom)
	}

	if _, err := c.ServerTimeout(); err != nil {
		return fmt.Errorf("server.timeout is invalid: %w", err)
	}

	return nil
}

// ServerTimeout parses the HTTP server timeout, defaulting to 15s
func (c *Config) ServerTimeout() (time.Duration, error) {
	if c.Server.Timeout == "" {
		return 15 * time.Second, nil
	}
	return time.ParseDuration(c.Server.Timeout)
}

// BrokerOptions converts the broker section into broker.Options
func (c *Config) BrokerOptions() broker.Options {
	opts := broker.DefaultOptions()
	if c.Broker.HeartbeatIntervalMs > 0 {
		opts.HeartbeatInterval = time.Duration(c.Broker.HeartbeatIntervalMs) * time.Millisecond
	}
	if c.Broker.RequestTimeoutMs > 0 {
		opts.RequestTimeout = time.Duration(c.Broker.RequestTimeoutMs) * time.Millisecond
	}
	if c.Broker.MaxSessionsPerKey > 0 {
		opts.MaxSessionsPerKey = c.Broker.MaxSessionsPerKey
	}
	if c.Broker.SelectionStrategy != "" {
		opts.Strategy = broker.SelectionStrategy(c.Broker.SelectionStrategy)
	}
	return opts
}
