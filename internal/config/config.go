// Package config handles loading and validating the daemon's configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the context-lens daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Upstreams   Upstreams         `koanf:"upstreams"`
	Store       StoreConfig       `koanf:"store"`
	Privacy     PrivacyConfig     `koanf:"privacy"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Distributed DistributedConfig `koanf:"distributed"`
}

// ServerConfig holds HTTP server settings for both the proxy listener and
// the query-API listener.
type ServerConfig struct {
	BindHost            string        `koanf:"bind_host"`
	ProxyPort           int           `koanf:"proxy_port"`
	APIPort             int           `koanf:"api_port"`
	ReadTimeout         time.Duration `koanf:"read_timeout"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	IdleTimeout         time.Duration `koanf:"idle_timeout"`
	UpstreamTimeout     time.Duration `koanf:"upstream_timeout"`
	AllowTargetOverride bool          `koanf:"allow_target_override"`
	MaxRequestBytes     int64         `koanf:"max_request_bytes"`
	MaxCaptureBytes     int64         `koanf:"max_capture_bytes"`
}

// Upstreams holds the base URL for each upstream provider. An empty field
// falls back to the provider's public default.
type Upstreams struct {
	OpenAI           string `koanf:"openai"`
	Anthropic        string `koanf:"anthropic"`
	ChatGPT          string `koanf:"chatgpt"`
	Gemini           string `koanf:"gemini"`
	GeminiCodeAssist string `koanf:"gemini_code_assist"`
	Vertex           string `koanf:"vertex"`
}

// StoreConfig controls in-memory retention and on-disk persistence.
type StoreConfig struct {
	StateFilePath   string `koanf:"state_file_path"`
	TagsFilePath    string `koanf:"tags_file_path"`
	CapturesDir     string `koanf:"captures_dir"`
	MaxSessions     int    `koanf:"max_sessions"`
	MaxMessagesKept int    `koanf:"max_messages_kept"`
}

// PrivacyConfig sets the default LHAR export privacy level.
type PrivacyConfig struct {
	DefaultLevel string `koanf:"default_level"` // minimal|standard|full
}

// TelemetryConfig controls logging and metrics.
type TelemetryConfig struct {
	LogLevel  string `koanf:"log_level"`
	LogPretty bool   `koanf:"log_pretty"`
}

// DistributedConfig controls the optional Redis-backed shared-revision
// backend used when more than one context-lensd instance shares traffic.
// RedisAddr empty means the feature is off and every instance keeps its
// own local revision counter.
type DistributedConfig struct {
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config. path may be
// empty or point to a nonexistent file — defaults and env vars still apply.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	// Layer environment variables on top. Any env var starting with
	// "CONTEXT_LENS_" can override a config value:
	//   CONTEXT_LENS_SERVER_PROXY_PORT -> server.proxy_port
	if err := k.Load(env.Provider("CONTEXT_LENS_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "CONTEXT_LENS_")),
			"_", ".", 1,
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	out := defaults()
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if out.Server.ProxyPort <= 0 || out.Server.ProxyPort > 65535 {
		return nil, fmt.Errorf("invalid server.proxy_port: %d", out.Server.ProxyPort)
	}
	if out.Server.APIPort <= 0 || out.Server.APIPort > 65535 {
		return nil, fmt.Errorf("invalid server.api_port: %d", out.Server.APIPort)
	}

	return &out, nil
}

// defaults returns the baseline configuration applied before any file or
// env override, so the daemon runs with sane values out of the box.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			BindHost:        "127.0.0.1",
			ProxyPort:       4040,
			APIPort:         4041,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			IdleTimeout:     120 * time.Second,
			UpstreamTimeout: 120 * time.Second,
			MaxRequestBytes: 64 << 20,
			MaxCaptureBytes: 8 << 20,
		},
		Upstreams: Upstreams{
			OpenAI:           "https://api.openai.com",
			Anthropic:        "https://api.anthropic.com",
			ChatGPT:          "https://chatgpt.com/backend-api",
			Gemini:           "https://generativelanguage.googleapis.com",
			GeminiCodeAssist: "https://cloudcode-pa.googleapis.com",
			Vertex:           "https://aiplatform.googleapis.com",
		},
		Store: StoreConfig{
			StateFilePath:   "state.jsonl",
			TagsFilePath:    "tags.jsonl",
			CapturesDir:     "captures",
			MaxSessions:     200,
			MaxMessagesKept: 60,
		},
		Privacy: PrivacyConfig{
			DefaultLevel: "standard",
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogPretty: true,
		},
	}
}
