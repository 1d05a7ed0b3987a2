package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Token     TokenConfig     `yaml:"token"`
	Database  DatabaseConfig  `yaml:"database"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxUploadMB  int64         `yaml:"max_upload_mb"`
}

// DeviceConfig describes the Snapmaker being proxied. PollInterval is the
// sleep between keep-alive ticks.
type DeviceConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PrintStartDelay time.Duration `yaml:"print_start_delay"`
}

const (
	TokenStoreFile   = "file"
	TokenStoreSQLite = "sqlite"
)

type TokenConfig struct {
	Store      string `yaml:"store"`
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type WebhookEndpoint struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type WebhooksConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	Timeout     time.Duration     `yaml:"timeout"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type DiscoveryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15 * time.Minute,
			WriteTimeout: 15 * time.Minute,
			MaxUploadMB:  200,
		},
		Device: DeviceConfig{
			Endpoint:        "http://192.168.1.100:8080",
			RequestTimeout:  10 * time.Second,
			ConnectTimeout:  2 * time.Minute,
			UploadTimeout:   10 * time.Minute,
			PollInterval:    1 * time.Second,
			PrintStartDelay: 2 * time.Second,
		},
		Token: TokenConfig{
			Store: TokenStoreFile,
			Path:  "./snapmaker_token",
		},
		Database: DatabaseConfig{
			Path: "./data/snapproxy.db",
		},
		Webhooks: WebhooksConfig{
			Timeout:     10 * time.Second,
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Discovery: DiscoveryConfig{
			InstanceName: "Snapmaker Proxy",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at configPath on top of the defaults and then
// applies environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SNAPPROXY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("SNAPPROXY_DEVICE_ENDPOINT"); v != "" {
		c.Device.Endpoint = v
	}

	if v := os.Getenv("SNAPPROXY_TOKEN_PATH"); v != "" {
		c.Token.Path = v
	}

	if v := os.Getenv("SNAPPROXY_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("SNAPPROXY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Addr is the listen address for the proxy's HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}

	u, err := url.Parse(c.Device.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("device endpoint must be an http(s) URL, got %q", c.Device.Endpoint)
	}

	if c.Device.RequestTimeout <= 0 {
		return fmt.Errorf("device request timeout must be positive")
	}

	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device connect timeout must be positive")
	}

	if c.Device.UploadTimeout <= 0 {
		return fmt.Errorf("device upload timeout must be positive")
	}

	if c.Device.PollInterval <= 0 {
		return fmt.Errorf("device poll interval must be positive")
	}

	if c.Device.PrintStartDelay < 0 {
		return fmt.Errorf("print start delay must be non-negative")
	}

	// An upload reply is only written after the device finishes prepare_print
	// and the start delay has passed; a shorter write deadline loses it.
	if minWrite := c.Device.UploadTimeout + c.Device.PrintStartDelay; c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < minWrite {
		return fmt.Errorf("server write timeout %s must be at least device upload timeout plus print start delay (%s)", c.Server.WriteTimeout, minWrite)
	}

	switch c.Token.Store {
	case TokenStoreFile:
		if c.Token.Path == "" {
			return fmt.Errorf("token path is required for the file store")
		}
	case TokenStoreSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite token store")
		}
	default:
		return fmt.Errorf("invalid token store: %s (valid: file, sqlite)", c.Token.Store)
	}

	for i, ep := range c.Webhooks.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook endpoint %d: invalid url %q", i, ep.URL)
		}
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.RetryDelay < 0 {
		return fmt.Errorf("webhook retry delay must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
