package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the pagesync broker.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upload     UploadConfig     `yaml:"upload"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the public listener and session transport settings.
type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	StaticDir      string        `yaml:"static_dir"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains optional TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UploadConfig selects and configures the document store.
type UploadConfig struct {
	Backend     string   `yaml:"backend"` // "filesystem" or "s3"
	Directory   string   `yaml:"directory"`
	MaxFileSize int64    `yaml:"max_file_size"`
	S3          S3Config `yaml:"s3"`
}

// S3Config configures the S3 document backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// SecurityConfig contains abuse limits. Room passwords are the only access control.
type SecurityConfig struct {
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
	MessagesPerSecond    int  `yaml:"messages_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:  "0.0.0.0:9999",
			StaticDir:      "./public",
			DrainTimeout:   15 * time.Second,
			MaxMessageSize: 65536, // 64KB, envelopes are small JSON
			SendQueueSize:  64,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Upload: UploadConfig{
			Backend:     "filesystem",
			Directory:   "./uploads",
			MaxFileSize: 50 * 1024 * 1024, // 50MB
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 20,
			RateLimit: RateLimitConfig{
				Enabled:              true,
				ConnectionsPerMinute: 60,
				MessagesPerSecond:    50,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file, a .env file if present, and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if c.Server.MaxMessageSize > 16777216 {
		return fmt.Errorf("server.max_message_size must not exceed 16777216 (16MB)")
	}
	if c.Server.SendQueueSize <= 0 {
		return fmt.Errorf("server.send_queue_size must be positive")
	}
	if c.Server.DrainTimeout <= 0 || c.Server.DrainTimeout > 5*time.Minute {
		return fmt.Errorf("server.drain_timeout must be between 0 and 5m")
	}
	if c.Server.WriteTimeout <= 0 || c.Server.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("server.write_timeout must be between 0 and 5m")
	}
	if c.Server.PingInterval < 0 {
		return fmt.Errorf("server.ping_interval must not be negative")
	}
	if c.Server.PingInterval > 0 && c.Server.PongTimeout <= 0 {
		return fmt.Errorf("server.pong_timeout must be positive when pings are enabled")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}

	switch c.Upload.Backend {
	case "filesystem":
		if c.Upload.Directory == "" {
			return fmt.Errorf("upload.directory is required for the filesystem backend")
		}
	case "s3":
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("upload.backend must be one of: filesystem, s3")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
		}
		if c.Security.RateLimit.MessagesPerSecond < 0 {
			return fmt.Errorf("security.rate_limit.messages_per_second must not be negative")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		host, _, err := net.SplitHostPort(c.Health.ListenAddress)
		if err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing metrics")
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies PAGESYNC_ prefixed environment variables.
// Convention: PAGESYNC_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"PAGESYNC_SERVER_LISTEN_ADDRESS":   func(v string) { cfg.Server.ListenAddress = v },
		"PAGESYNC_SERVER_STATIC_DIR":       func(v string) { cfg.Server.StaticDir = v },
		"PAGESYNC_SERVER_ALLOWED_ORIGINS":  func(v string) { cfg.Server.AllowedOrigins = splitList(v) },
		"PAGESYNC_SERVER_DRAIN_TIMEOUT":    func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"PAGESYNC_SERVER_MAX_MESSAGE_SIZE": func(v string) { cfg.Server.MaxMessageSize = parseInt64(v, cfg.Server.MaxMessageSize) },
		"PAGESYNC_SERVER_SEND_QUEUE_SIZE":  func(v string) { cfg.Server.SendQueueSize = parseInt(v, cfg.Server.SendQueueSize) },
		"PAGESYNC_SERVER_PING_INTERVAL":    func(v string) { cfg.Server.PingInterval = parseDuration(v, cfg.Server.PingInterval) },
		"PAGESYNC_SERVER_PONG_TIMEOUT":     func(v string) { cfg.Server.PongTimeout = parseDuration(v, cfg.Server.PongTimeout) },
		"PAGESYNC_SERVER_WRITE_TIMEOUT":    func(v string) { cfg.Server.WriteTimeout = parseDuration(v, cfg.Server.WriteTimeout) },
		"PAGESYNC_UPLOAD_BACKEND":          func(v string) { cfg.Upload.Backend = v },
		"PAGESYNC_UPLOAD_DIRECTORY":        func(v string) { cfg.Upload.Directory = v },
		"PAGESYNC_UPLOAD_MAX_FILE_SIZE":    func(v string) { cfg.Upload.MaxFileSize = parseInt64(v, cfg.Upload.MaxFileSize) },
		"PAGESYNC_UPLOAD_S3_BUCKET":        func(v string) { cfg.Upload.S3.Bucket = v },
		"PAGESYNC_UPLOAD_S3_REGION":        func(v string) { cfg.Upload.S3.Region = v },
		"PAGESYNC_UPLOAD_S3_ENDPOINT":      func(v string) { cfg.Upload.S3.Endpoint = v },
		"PAGESYNC_UPLOAD_S3_USE_PATH_STYLE": func(v string) {
			cfg.Upload.S3.UsePathStyle = parseBool(v, cfg.Upload.S3.UsePathStyle)
		},
		"PAGESYNC_SECURITY_MAX_CONNECTIONS":        func(v string) { cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections) },
		"PAGESYNC_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) { cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP) },
		"PAGESYNC_SECURITY_RATE_LIMIT_ENABLED":     func(v string) { cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled) },
		"PAGESYNC_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"PAGESYNC_SECURITY_RATE_LIMIT_MESSAGES_PER_SECOND": func(v string) {
			cfg.Security.RateLimit.MessagesPerSecond = parseInt(v, cfg.Security.RateLimit.MessagesPerSecond)
		},
		"PAGESYNC_LOGGING_LEVEL":               func(v string) { cfg.Logging.Level = v },
		"PAGESYNC_LOGGING_FORMAT":              func(v string) { cfg.Logging.Format = v },
		"PAGESYNC_LOGGING_FILE":                func(v string) { cfg.Logging.File = v },
		"PAGESYNC_HEALTH_ENABLED":              func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"PAGESYNC_HEALTH_LISTEN_ADDRESS":       func(v string) { cfg.Health.ListenAddress = v },
		"PAGESYNC_MONITORING_METRICS_ENABLED":  func(v string) { cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled) },
		"PAGESYNC_MONITORING_METRICS_ENDPOINT": func(v string) { cfg.Monitoring.MetricsEndpoint = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: listen addresses, tls, static_dir, upload backend.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Security.RateLimit = newCfg.Security.RateLimit
	updated.Security.MaxConnections = newCfg.Security.MaxConnections
	updated.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	updated.Logging.Level = newCfg.Logging.Level
	updated.Server.MaxMessageSize = newCfg.Server.MaxMessageSize
	updated.Upload.MaxFileSize = newCfg.Upload.MaxFileSize
	return &updated
}

// IsReloadSafe lists the changes between configs that only take effect after a restart.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Server.StaticDir != new.Server.StaticDir {
		warnings = append(warnings, "server.static_dir requires restart")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		warnings = append(warnings, "server.tls requires restart")
	}
	if old.Upload.Backend != new.Upload.Backend || old.Upload.Directory != new.Upload.Directory ||
		!reflect.DeepEqual(old.Upload.S3, new.Upload.S3) {
		warnings = append(warnings, "upload backend settings require restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	return warnings
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
