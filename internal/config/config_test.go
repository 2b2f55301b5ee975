package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("default listen_address = %q, want %q", cfg.Server.ListenAddress, "0.0.0.0:9999")
	}
	if cfg.Server.SendQueueSize != 64 {
		t.Errorf("default send_queue_size = %d, want 64", cfg.Server.SendQueueSize)
	}
	if cfg.Upload.Backend != "filesystem" {
		t.Errorf("default upload.backend = %q, want filesystem", cfg.Upload.Backend)
	}
	if cfg.Upload.Directory != "./uploads" {
		t.Errorf("default upload.directory = %q, want ./uploads", cfg.Upload.Directory)
	}
	if cfg.Health.ListenAddress != "127.0.0.1:8081" {
		t.Errorf("default health.listen_address = %q, want %q", cfg.Health.ListenAddress, "127.0.0.1:8081")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  listen_address: "127.0.0.1:9000"
  static_dir: "/srv/pagesync/public"
  allowed_origins: ["https://slides.example.com"]
  drain_timeout: "5s"
  max_message_size: 131072
  send_queue_size: 16
upload:
  backend: "s3"
  max_file_size: 1048576
  s3:
    bucket: "decks"
    region: "eu-west-1"
    endpoint: "http://127.0.0.1:9001"
    use_path_style: true
security:
  max_connections: 500
  max_connections_per_ip: 5
  rate_limit:
    enabled: false
logging:
  level: "debug"
  format: "text"
health:
  enabled: true
  listen_address: "127.0.0.1:8081"
  endpoint: "/health"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("listen_address = %q, want %q", cfg.Server.ListenAddress, "127.0.0.1:9000")
	}
	if cfg.Server.DrainTimeout != 5*time.Second {
		t.Errorf("drain_timeout = %v, want %v", cfg.Server.DrainTimeout, 5*time.Second)
	}
	if cfg.Server.SendQueueSize != 16 {
		t.Errorf("send_queue_size = %d, want 16", cfg.Server.SendQueueSize)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://slides.example.com" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Upload.Backend != "s3" || cfg.Upload.S3.Bucket != "decks" || !cfg.Upload.S3.UsePathStyle {
		t.Errorf("upload = %+v", cfg.Upload)
	}
	if cfg.Security.MaxConnections != 500 {
		t.Errorf("max_connections = %d, want %d", cfg.Security.MaxConnections, 500)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.RateLimit.Enabled {
		t.Error("rate_limit.enabled should be false")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want not found", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load('') error: %v", err)
	}
	if cfg.Upload.Backend != "filesystem" {
		t.Errorf("upload.backend = %q, want default", cfg.Upload.Backend)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAGESYNC_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("PAGESYNC_SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PAGESYNC_UPLOAD_DIRECTORY", "/var/lib/pagesync")
	t.Setenv("PAGESYNC_LOGGING_LEVEL", "debug")
	t.Setenv("PAGESYNC_SECURITY_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("listen_address = %q, want env override", cfg.Server.ListenAddress)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Upload.Directory != "/var/lib/pagesync" {
		t.Errorf("upload.directory = %q", cfg.Upload.Directory)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.RateLimit.Enabled {
		t.Error("rate_limit.enabled should be false from env override")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "empty listen_address",
			modify:  func(c *Config) { c.Server.ListenAddress = "" },
			wantErr: "server.listen_address is required",
		},
		{
			name:    "invalid listen_address",
			modify:  func(c *Config) { c.Server.ListenAddress = "not-a-host-port" },
			wantErr: "server.listen_address is invalid",
		},
		{
			name:    "zero max_message_size",
			modify:  func(c *Config) { c.Server.MaxMessageSize = 0 },
			wantErr: "server.max_message_size must be positive",
		},
		{
			name:    "zero send_queue_size",
			modify:  func(c *Config) { c.Server.SendQueueSize = 0 },
			wantErr: "server.send_queue_size must be positive",
		},
		{
			name:    "pings without pong timeout",
			modify:  func(c *Config) { c.Server.PongTimeout = 0 },
			wantErr: "server.pong_timeout must be positive",
		},
		{
			name:    "unknown upload backend",
			modify:  func(c *Config) { c.Upload.Backend = "ftp" },
			wantErr: "upload.backend must be one of",
		},
		{
			name:    "s3 without bucket",
			modify:  func(c *Config) { c.Upload.Backend = "s3" },
			wantErr: "upload.s3.bucket is required",
		},
		{
			name:    "filesystem without directory",
			modify:  func(c *Config) { c.Upload.Directory = "" },
			wantErr: "upload.directory is required",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level must be one of",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "csv" },
			wantErr: "logging.format must be one of",
		},
		{
			name:    "tls enabled without cert",
			modify:  func(c *Config) { c.Server.TLS.Enabled = true },
			wantErr: "server.tls.cert_file is required",
		},
		{
			name: "tls enabled without key",
			modify: func(c *Config) {
				c.Server.TLS.Enabled = true
				c.Server.TLS.CertFile = "/path/to/cert.pem"
			},
			wantErr: "server.tls.key_file is required",
		},
		{
			name:    "zero max_connections",
			modify:  func(c *Config) { c.Security.MaxConnections = 0 },
			wantErr: "security.max_connections must be positive",
		},
		{
			name:    "per-ip above global",
			modify:  func(c *Config) { c.Security.MaxConnectionsPerIP = 5000 },
			wantErr: "must not exceed security.max_connections",
		},
		{
			name:    "health on public interface",
			modify:  func(c *Config) { c.Health.ListenAddress = "0.0.0.0:8081" },
			wantErr: "loopback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestIsReloadSafe(t *testing.T) {
	old := DefaultConfig()
	new := DefaultConfig()

	warnings := IsReloadSafe(old, new)
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}

	new.Server.ListenAddress = "127.0.0.1:9090"
	warnings = IsReloadSafe(old, new)
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}

	new.Upload.Directory = "/elsewhere"
	warnings = IsReloadSafe(old, new)
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestApplyReloadableFields(t *testing.T) {
	old := DefaultConfig()
	new := DefaultConfig()
	new.Logging.Level = "debug"
	new.Server.MaxMessageSize = 2097152
	new.Security.MaxConnections = 10
	new.Server.ListenAddress = "127.0.0.1:1"

	updated := old.ApplyReloadableFields(new)

	if updated.Logging.Level != "debug" {
		t.Errorf("log level not reloaded")
	}
	if updated.Server.MaxMessageSize != 2097152 {
		t.Errorf("max_message_size not reloaded")
	}
	if updated.Security.MaxConnections != 10 {
		t.Errorf("max_connections not reloaded")
	}
	if updated.Server.ListenAddress != old.Server.ListenAddress {
		t.Errorf("listen_address must not be reloaded")
	}
	if old.Logging.Level != "info" {
		t.Errorf("original config was mutated")
	}
}
