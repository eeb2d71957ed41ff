package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds runtime key sets for use by other packages.
type RuntimeConfig struct {
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
}

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Limits    LimitsConfig    `yaml:"limits"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
	// BlobDir is the root directory for the chat-images / chat-audio buckets.
	BlobDir string    `yaml:"blob_dir"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	// SigningKey is the HMAC secret for blob signed URLs. Required when
	// attachments are enabled.
	SigningKey string `yaml:"signing_key"`
	CORS       struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	APIKeys struct {
		Backend     []string `yaml:"backend"`
		Frontend    []string `yaml:"frontend"`
		AllowUnauth bool     `yaml:"allow_unauth"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LimitsConfig bounds inbound payloads.
type LimitsConfig struct {
	// MaxContentBytes caps message text length (bytes). 0 means default.
	MaxContentBytes int `yaml:"max_content_bytes"`
	// MaxBlobBytes caps a single attachment upload. 0 means default.
	MaxBlobBytes int64 `yaml:"max_blob_bytes"`
	// SignedURLTTL is the lifetime of minted blob URLs. 0 means 1h.
	SignedURLTTL Duration `yaml:"signed_url_ttl"`
}

// RealtimeConfig tunes the per-conversation channel machinery.
type RealtimeConfig struct {
	// QueueCapacity bounds the fanout event queue. 0 means default.
	QueueCapacity int `yaml:"queue_capacity"`
	// SendBuffer is the per-client outbound buffer. 0 means default.
	SendBuffer int `yaml:"send_buffer"`
	// TypingTTL is how long a typing=true broadcast stays meaningful;
	// mirrors the client's trailing debounce window. 0 means 2s.
	TypingTTL Duration `yaml:"typing_ttl"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how long soft-deleted messages are kept before purge,
	// e.g. "720h". Empty disables message purging.
	Period    string `yaml:"period"`
	BatchSize int    `yaml:"batch_size"`
	DryRun    bool   `yaml:"dry_run"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" && c.Server.Port == 0 {
		return ""
	}
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
