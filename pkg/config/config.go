package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.signaldesk/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 4001
// database:
//   path: /var/lib/signaldesk/signaldesk.db
// ai:
//   base_url: http://localhost:8000
//   timeout_seconds: 30
// auth:
//   token_secret: change-me
// queue:
//   debounce_seconds: 5
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Auth     AuthConfig     `yaml:"auth"`
	Queue    QueueConfig    `yaml:"queue"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path *string `yaml:"path"`
}

type AIConfig struct {
	BaseURL        *string `yaml:"base_url"`
	TimeoutSeconds *int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	TokenSecret *string `yaml:"token_secret"`
}

type QueueConfig struct {
	DebounceSeconds *int `yaml:"debounce_seconds"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 4001
	DefaultAIBaseURL       = "http://localhost:8000"
	DefaultAITimeout       = 30
	DefaultDebounceSeconds = 5
	DefaultTokenSecret     = "your-secret-key-change-in-production"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".signaldesk")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.signaldesk/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		AI:     AIConfig{BaseURL: ptr(DefaultAIBaseURL)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Restrictive permissions; the file may hold the token secret.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// DatabasePath defaults to a sqlite file next to the config file.
func (c *AppConfig) DatabasePath() string {
	if c != nil && c.Database.Path != nil && strings.TrimSpace(*c.Database.Path) != "" {
		return *c.Database.Path
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "signaldesk.db"
	}
	return filepath.Join(configDir, "signaldesk.db")
}

func (c *AppConfig) AIBaseURL() string {
	if c == nil || c.AI.BaseURL == nil {
		return DefaultAIBaseURL
	}
	v := strings.TrimSpace(*c.AI.BaseURL)
	if v == "" {
		return DefaultAIBaseURL
	}
	return strings.TrimRight(v, "/")
}

func (c *AppConfig) AITimeout() time.Duration {
	if c == nil || c.AI.TimeoutSeconds == nil || *c.AI.TimeoutSeconds <= 0 {
		return DefaultAITimeout * time.Second
	}
	return time.Duration(*c.AI.TimeoutSeconds) * time.Second
}

func (c *AppConfig) TokenSecret() string {
	if c == nil || c.Auth.TokenSecret == nil || strings.TrimSpace(*c.Auth.TokenSecret) == "" {
		return DefaultTokenSecret
	}
	return *c.Auth.TokenSecret
}

func (c *AppConfig) DebounceWindow() time.Duration {
	if c == nil || c.Queue.DebounceSeconds == nil || *c.Queue.DebounceSeconds <= 0 {
		return DefaultDebounceSeconds * time.Second
	}
	return time.Duration(*c.Queue.DebounceSeconds) * time.Second
}

func ptr[T any](v T) *T { return &v }
