package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"studyhub/pkg/database"
)

// Config is the full runtime configuration. Precedence: file overrides env,
// env overrides defaults.
type Config struct {
	HTTP      HTTPConfig       `yaml:"http"`
	Database  *database.Config `yaml:"database"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	Auth      AuthConfig       `yaml:"auth"`
	Presence  PresenceConfig   `yaml:"presence"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type WebSocketConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	SendBuffer   int           `yaml:"send_buffer"`
	HistoryLimit int           `yaml:"history_limit"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// PresenceConfig tunes the two background sweepers. TimerSweepInterval is
// on the order of seconds; ZombieSweepInterval tens of minutes; ZombieGrace
// hours.
type PresenceConfig struct {
	TimerSweepInterval  time.Duration `yaml:"timer_sweep_interval"`
	ZombieSweepInterval time.Duration `yaml:"zombie_sweep_interval"`
	ZombieGrace         time.Duration `yaml:"zombie_grace"`
}

// DefaultConfig returns the coded defaults; the presence values match the
// original deployment's tuning.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: database.DefaultConfig(),
		WebSocket: WebSocketConfig{
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  60 * time.Second,
			PingInterval: 30 * time.Second,
			SendBuffer:   100,
			HistoryLimit: 50,
		},
		Auth: AuthConfig{},
		Presence: PresenceConfig{
			TimerSweepInterval:  5 * time.Second,
			ZombieSweepInterval: 15 * time.Minute,
			ZombieGrace:         150 * time.Minute,
		},
	}
}

// Load builds the configuration: defaults, then env overrides, then the
// optional YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if host := os.Getenv("STUDYHUB_HTTP_HOST"); host != "" {
		c.HTTP.Host = host
	}
	if port := os.Getenv("STUDYHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.HTTP.Port = p
		}
	}
	if path := os.Getenv("STUDYHUB_DATABASE_PATH"); path != "" {
		c.Database.Path = path
	}
	if secret := os.Getenv("STUDYHUB_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if interval := os.Getenv("STUDYHUB_TIMER_SWEEP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Presence.TimerSweepInterval = d
		}
	}
	if grace := os.Getenv("STUDYHUB_ZOMBIE_GRACE"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			c.Presence.ZombieGrace = d
		}
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("websocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.WebSocket.HistoryLimit < 0 {
		return fmt.Errorf("websocket history limit cannot be negative")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if c.Presence.TimerSweepInterval <= 0 {
		return fmt.Errorf("presence timer sweep interval must be positive")
	}
	if c.Presence.ZombieSweepInterval <= 0 {
		return fmt.Errorf("presence zombie sweep interval must be positive")
	}
	if c.Presence.ZombieGrace <= 0 {
		return fmt.Errorf("presence zombie grace must be positive")
	}
	return nil
}
