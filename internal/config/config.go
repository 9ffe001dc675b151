package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the bridge configuration.
type Config struct {
	WS      WSConfig      `yaml:"ws"`
	Backend BackendConfig `yaml:"backend"`
	Desktop DesktopConfig `yaml:"desktop"`
	Logging LoggingConfig `yaml:"logging"`
}

type WSConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Protocol       string   `yaml:"protocol"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BackendConfig struct {
	URL            string        `yaml:"url"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DesktopConfig struct {
	Socket string `yaml:"socket"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	DefaultHost          = "localhost"
	DefaultPort          = 8765
	DefaultProtocol      = "ws"
	DefaultRetryInterval = 5 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// Default returns a Config with every field populated except the backend URL.
func Default() *Config {
	sock := "desktop.sock"
	if dir, err := Dir(); err == nil {
		sock = filepath.Join(dir, "desktop.sock")
	}
	return &Config{
		WS: WSConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			Protocol: DefaultProtocol,
		},
		Backend: BackendConfig{
			RetryInterval:  DefaultRetryInterval,
			RequestTimeout: DefaultTimeout,
		},
		Desktop: DesktopConfig{Socket: sock},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path on top of the defaults. A missing
// file is not an error when path is the default location.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Desktop.Socket = ExpandHome(cfg.Desktop.Socket)
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DESKBRIDGE_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("DESKBRIDGE_WS_HOST"); v != "" {
		c.WS.Host = v
	}
	if v := os.Getenv("DESKBRIDGE_WS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DESKBRIDGE_WS_PORT: %w", err)
		}
		c.WS.Port = port
	}
	if v := os.Getenv("DESKBRIDGE_SOCKET"); v != "" {
		c.Desktop.Socket = v
	}
	if v := os.Getenv("DESKBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.WS.Host == "" {
		return fmt.Errorf("ws.host is required")
	}
	if c.WS.Port < 0 || c.WS.Port > 65535 {
		return fmt.Errorf("ws.port must be between 0 and 65535")
	}
	if c.WS.Protocol != "ws" && c.WS.Protocol != "wss" {
		return fmt.Errorf("ws.protocol must be 'ws' or 'wss'")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an absolute http(s) URL")
	}
	if c.Backend.RetryInterval <= 0 {
		return fmt.Errorf("backend.retry_interval must be positive")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be positive")
	}
	if c.Desktop.Socket == "" {
		return fmt.Errorf("desktop.socket is required")
	}
	return nil
}

// Referrer is the origin desktop clients are told requests came from.
func (c *Config) Referrer() string {
	return fmt.Sprintf("%s://%s:%d", c.WS.Protocol, c.WS.Host, c.WS.Port)
}

// BackendBase returns the backend URL without a trailing slash.
func (c *Config) BackendBase() string {
	return strings.TrimRight(c.Backend.URL, "/")
}
