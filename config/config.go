// Package config loads service configuration from YAML with environment
// overrides. Every tunable has a default so the service runs with no config
// file at all; a YAML file overrides defaults and environment variables
// override both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8787".
	Addr string `yaml:"addr"`
	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP resolution
	// for rate limiting. Only enable behind a trusted reverse proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
	// DevMode surfaces internal error details in responses and logs stacks.
	DevMode bool `yaml:"dev_mode"`
}

// PathsConfig holds filesystem roots. Empty fields are derived from DataDir.
type PathsConfig struct {
	DataDir      string `yaml:"data_dir"`
	MediaDir     string `yaml:"media_dir"`
	OutputsDir   string `yaml:"outputs_dir"`
	BGMDir       string `yaml:"bgm_dir"`
	CacheDir     string `yaml:"cache_dir"`
	TemplatesDir string `yaml:"templates_dir"`
}

// LimitsConfig holds per-session and fleet-wide capacity limits.
type LimitsConfig struct {
	MaxUploadFilesPerRequest int   `yaml:"max_upload_files_per_request"`
	MaxMediaPerSession       int   `yaml:"max_media_per_session"`
	MaxPendingPerSession     int   `yaml:"max_pending_media_per_session"`
	UploadChunkBytes         int64 `yaml:"upload_chunk_bytes"`
	UploadTTLSec             int   `yaml:"resumable_upload_ttl_sec"`
	MaxWSConnections         int64 `yaml:"max_ws_connections"`
	MaxChatConcurrency       int64 `yaml:"max_chat_concurrency"`
	MaxUploadConcurrency     int64 `yaml:"max_upload_concurrency"`
	ThumbTimeoutSec          int   `yaml:"thumb_timeout_sec"`
	FFmpegPath               string `yaml:"ffmpeg_path"`
}

// RuleRate is a capacity/refill pair for one admission rule.
type RuleRate struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

// RateConfig holds token-bucket admission settings.
type RateConfig struct {
	TTLSec             int   `yaml:"ttl_sec"`
	CleanupIntervalSec int   `yaml:"cleanup_interval_sec"`
	MaxBuckets         int   `yaml:"max_buckets"`
	EvictBatch         int   `yaml:"evict_batch"`
	UploadCostBytes    int64 `yaml:"upload_cost_bytes"`

	HTTPAll       RuleRate `yaml:"http_all"`
	HTTPGlobalIP  RuleRate `yaml:"http_global_ip"`
	CreateSession RuleRate `yaml:"create_session"`
	UploadMedia   RuleRate `yaml:"upload_media"`
	UploadCount   RuleRate `yaml:"upload_media_count"`
	MediaGet      RuleRate `yaml:"media_get"`
	ClearSession  RuleRate `yaml:"clear_session"`
	APIGeneral    RuleRate `yaml:"api_general"`
	WSConnect     RuleRate `yaml:"ws_connect"`
	WSChatSend    RuleRate `yaml:"ws_chat_send"`

	CreateSessionAll RuleRate `yaml:"create_session_all"`
	UploadMediaAll   RuleRate `yaml:"upload_media_all"`
	UploadCountAll   RuleRate `yaml:"upload_media_count_all"`
	MediaGetAll      RuleRate `yaml:"media_get_all"`
	WSConnectAll     RuleRate `yaml:"ws_connect_all"`
	WSChatSendAll    RuleRate `yaml:"ws_chat_send_all"`
}

// ModelConfig holds credentials for one model entry in the models table.
type ModelConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// TTSConfig holds the default text-to-speech selection.
type TTSConfig struct {
	Provider   string `yaml:"provider"`
	VoiceIndex string `yaml:"voice_index"`
	BaseURL    string `yaml:"base_url"`
}

// TelemetryConfig holds optional OTLP trace export settings.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// SearchConfig holds the server-side stock-media search credentials.
type SearchConfig struct {
	APIKey string `yaml:"api_key"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Paths     PathsConfig            `yaml:"paths"`
	Limits    LimitsConfig           `yaml:"limits"`
	Rate      RateConfig             `yaml:"rate"`
	Models    map[string]ModelConfig `yaml:"models"`
	TTS       TTSConfig              `yaml:"tts"`
	Search    SearchConfig           `yaml:"search"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
}

// Default returns the configuration with all defaults applied, including
// environment overrides for the numeric limits.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Addr:              ":8787",
			TrustProxyHeaders: os.Getenv("RATE_LIMIT_TRUST_PROXY_HEADERS") == "1",
		},
		Paths: PathsConfig{
			DataDir: ".reelkit",
		},
		Limits: LimitsConfig{
			MaxUploadFilesPerRequest: envInt("MAX_UPLOAD_FILES_PER_REQUEST", 30),
			MaxMediaPerSession:       envInt("MAX_MEDIA_PER_SESSION", 30),
			MaxPendingPerSession:     envInt("MAX_PENDING_MEDIA_PER_SESSION", 30),
			UploadChunkBytes:         envInt64("UPLOAD_RESUMABLE_CHUNK_BYTES", 8*1024*1024),
			UploadTTLSec:             envInt("RESUMABLE_UPLOAD_TTL_SEC", 3600),
			MaxWSConnections:         int64(envInt("RATE_LIMIT_WS_MAX_CONNECTIONS", 500)),
			MaxChatConcurrency:       int64(envInt("RATE_LIMIT_CHAT_MAX_CONCURRENCY", 80)),
			MaxUploadConcurrency:     int64(envInt("RATE_LIMIT_UPLOAD_MAX_CONCURRENCY", 100)),
			ThumbTimeoutSec:          envInt("THUMBNAIL_TIMEOUT_SEC", 20),
			FFmpegPath:               envStr("FFMPEG_PATH", "ffmpeg"),
		},
		Rate: RateConfig{
			TTLSec:             envInt("RATE_LIMIT_TTL_SEC", 900),
			CleanupIntervalSec: envInt("RATE_LIMIT_CLEANUP_INTERVAL_SEC", 60),
			MaxBuckets:         envInt("RATE_LIMIT_MAX_BUCKETS", 100000),
			EvictBatch:         envInt("RATE_LIMIT_EVICT_BATCH", 2000),
			UploadCostBytes:    envInt64("RATE_LIMIT_UPLOAD_COST_BYTES", 10*1024*1024),

			HTTPAll:       envRule("RATE_LIMIT_HTTP_ALL", 1200, 200),
			HTTPGlobalIP:  envRule("RATE_LIMIT_HTTP_GLOBAL", 3000, 600),
			CreateSession: envRule("RATE_LIMIT_CREATE_SESSION", 3000, 50),
			UploadMedia:   envRule("RATE_LIMIT_UPLOAD_MEDIA", 12000, 300),
			UploadCount:   envRule("RATE_LIMIT_UPLOAD_MEDIA_COUNT", 50000, 1000),
			MediaGet:      envRule("RATE_LIMIT_MEDIA_GET", 2400, 60),
			ClearSession:  envRule("RATE_LIMIT_CLEAR_SESSION", 3000, 50),
			APIGeneral:    envRule("RATE_LIMIT_API", 2400, 120),
			WSConnect:     envRule("RATE_LIMIT_WS_CONNECT", 600, 50),
			WSChatSend:    envRule("RATE_LIMIT_WS_CHAT_SEND", 300, 20),

			CreateSessionAll: envRule("RATE_LIMIT_CREATE_SESSION_ALL", 120, 20),
			UploadMediaAll:   envRule("RATE_LIMIT_UPLOAD_MEDIA_ALL", 6000, 2000),
			UploadCountAll:   envRule("RATE_LIMIT_UPLOAD_MEDIA_COUNT_ALL", 6000, 2000),
			MediaGetAll:      envRule("RATE_LIMIT_MEDIA_GET_ALL", 600, 120),
			WSConnectAll:     envRule("RATE_LIMIT_WS_CONNECT_ALL", 60000, 2000),
			WSChatSendAll:    envRule("RATE_LIMIT_WS_CHAT_SEND_ALL", 500, 30),
		},
		Models: map[string]ModelConfig{},
		TTS: TTSConfig{
			Provider: "indextts",
		},
		Search: SearchConfig{
			APIKey: envStr("PEXELS_API_KEY", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName: "reelkit",
		},
	}
	cfg.derivePaths()
	return cfg
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	derived := cfg.Paths
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.rederivePaths(derived)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the service depends on.
func (c *Config) Validate() error {
	if c.Limits.UploadChunkBytes <= 0 {
		return fmt.Errorf("limits.upload_chunk_bytes must be positive, got %d", c.Limits.UploadChunkBytes)
	}
	if c.Limits.UploadTTLSec <= 0 {
		return fmt.Errorf("limits.resumable_upload_ttl_sec must be positive, got %d", c.Limits.UploadTTLSec)
	}
	if c.Rate.MaxBuckets <= 0 {
		return fmt.Errorf("rate.max_buckets must be positive, got %d", c.Rate.MaxBuckets)
	}
	return nil
}

// rederivePaths drops path fields the YAML overlay left at their derived
// defaults, so they follow an overridden data_dir, then derives again.
// Explicitly configured paths are kept as-is.
func (c *Config) rederivePaths(derived PathsConfig) {
	if c.Paths.MediaDir == derived.MediaDir {
		c.Paths.MediaDir = ""
	}
	if c.Paths.OutputsDir == derived.OutputsDir {
		c.Paths.OutputsDir = ""
	}
	if c.Paths.BGMDir == derived.BGMDir {
		c.Paths.BGMDir = ""
	}
	if c.Paths.CacheDir == derived.CacheDir {
		c.Paths.CacheDir = ""
	}
	if c.Paths.TemplatesDir == derived.TemplatesDir {
		c.Paths.TemplatesDir = ""
	}
	c.derivePaths()
}

// derivePaths fills empty path fields from DataDir.
func (c *Config) derivePaths() {
	root := c.Paths.DataDir
	if root == "" {
		root = ".reelkit"
		c.Paths.DataDir = root
	}
	if c.Paths.MediaDir == "" {
		c.Paths.MediaDir = filepath.Join(root, "media")
	}
	if c.Paths.OutputsDir == "" {
		c.Paths.OutputsDir = filepath.Join(root, "outputs")
	}
	if c.Paths.BGMDir == "" {
		c.Paths.BGMDir = filepath.Join(root, "bgm")
	}
	if c.Paths.CacheDir == "" {
		c.Paths.CacheDir = filepath.Join(root, ".server_cache")
	}
	if c.Paths.TemplatesDir == "" {
		c.Paths.TemplatesDir = filepath.Join(root, "templates")
	}
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(name string, def int64) int64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envRule(prefix string, rpm, burst int) RuleRate {
	return RuleRate{
		RPM:   envInt(prefix+"_RPM", rpm),
		Burst: envInt(prefix+"_BURST", burst),
	}
}
