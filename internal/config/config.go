package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface. Endpoints and secrets are
// env-only; everything else comes from the yaml file with defaults
// applied for anything left zero.
type Config struct {
	HTTP struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"http"`

	Ingest struct {
		ListenAddr         string `yaml:"listen_addr"`
		Domain             string `yaml:"domain"`
		MaxAttachmentBytes int64  `yaml:"max_attachment_bytes"`
		MaxMessageBytes    int64  `yaml:"max_message_bytes"`
		// Per-camera flood guard: at most Rate messages per WindowMs.
		RateLimit struct {
			Rate     int `yaml:"rate"`
			WindowMs int `yaml:"window_ms"`
		} `yaml:"rate_limit"`
		AliasCacheSize   int `yaml:"alias_cache_size"`
		AliasCacheTTLSec int `yaml:"alias_cache_ttl_seconds"`
	} `yaml:"ingest"`

	Stream struct {
		FFmpegPath      string `yaml:"ffmpeg_path"`
		SegmentSeconds  int    `yaml:"segment_seconds"`
		RetainSegments  int    `yaml:"retain_segments"`
		StartTimeoutMs  int    `yaml:"start_timeout_ms"`
		HealthTimeoutMs int    `yaml:"health_timeout_ms"`
		RestartCeiling  int    `yaml:"restart_ceiling"`
		IdleGraceMs     int    `yaml:"idle_grace_ms"`
	} `yaml:"stream"`

	Hub struct {
		QueueDepth  int    `yaml:"queue_depth"`
		NatsSubject string `yaml:"nats_subject"`
	} `yaml:"hub"`

	Workflow struct {
		WebhookTimeoutMs int `yaml:"webhook_timeout_ms"`
	} `yaml:"workflow"`

	HLS struct {
		TokenTTLSec int `yaml:"token_ttl_seconds"`
	} `yaml:"hls"`

	Audit struct {
		SpoolDir       string `yaml:"spool_dir"`
		MaxSpoolMB     int64  `yaml:"max_spool_mb"`
		RetentionYears int    `yaml:"retention_years"`
	} `yaml:"audit"`
}

// Load parses the yaml file at path and applies defaults.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.Ingest.ListenAddr == "" {
		c.Ingest.ListenAddr = ":2525"
	}
	if c.Ingest.Domain == "" {
		c.Ingest.Domain = "alarms.local"
	}
	if c.Ingest.MaxAttachmentBytes == 0 {
		c.Ingest.MaxAttachmentBytes = 10 * 1024 * 1024
	}
	if c.Ingest.MaxMessageBytes == 0 {
		c.Ingest.MaxMessageBytes = 50 * 1024 * 1024
	}
	if c.Ingest.RateLimit.Rate == 0 {
		c.Ingest.RateLimit.Rate = 30
	}
	if c.Ingest.RateLimit.WindowMs == 0 {
		c.Ingest.RateLimit.WindowMs = 60_000
	}
	if c.Ingest.AliasCacheSize == 0 {
		c.Ingest.AliasCacheSize = 1024
	}
	if c.Ingest.AliasCacheTTLSec == 0 {
		c.Ingest.AliasCacheTTLSec = 60
	}
	if c.Stream.FFmpegPath == "" {
		c.Stream.FFmpegPath = "ffmpeg"
	}
	if c.Stream.SegmentSeconds == 0 {
		c.Stream.SegmentSeconds = 2
	}
	if c.Stream.RetainSegments == 0 {
		c.Stream.RetainSegments = 6
	}
	if c.Stream.StartTimeoutMs == 0 {
		c.Stream.StartTimeoutMs = 15_000
	}
	if c.Stream.HealthTimeoutMs == 0 {
		c.Stream.HealthTimeoutMs = 20_000
	}
	if c.Stream.RestartCeiling == 0 {
		c.Stream.RestartCeiling = 4
	}
	if c.Stream.IdleGraceMs == 0 {
		c.Stream.IdleGraceMs = 30_000
	}
	if c.Hub.QueueDepth == 0 {
		c.Hub.QueueDepth = 64
	}
	if c.Hub.NatsSubject == "" {
		c.Hub.NatsSubject = "monitor.events"
	}
	if c.Workflow.WebhookTimeoutMs == 0 {
		c.Workflow.WebhookTimeoutMs = 10_000
	}
	if c.HLS.TokenTTLSec == 0 {
		c.HLS.TokenTTLSec = 300
	}
	if c.Audit.MaxSpoolMB == 0 {
		c.Audit.MaxSpoolMB = 1024
	}
	if c.Audit.RetentionYears == 0 {
		c.Audit.RetentionYears = 7
	}
}

// Duration accessors so callers don't repeat the Ms conversion.

func (c *Config) StreamStartTimeout() time.Duration {
	return time.Duration(c.Stream.StartTimeoutMs) * time.Millisecond
}

func (c *Config) StreamHealthTimeout() time.Duration {
	return time.Duration(c.Stream.HealthTimeoutMs) * time.Millisecond
}

func (c *Config) StreamIdleGrace() time.Duration {
	return time.Duration(c.Stream.IdleGraceMs) * time.Millisecond
}

func (c *Config) IngestRateWindow() time.Duration {
	return time.Duration(c.Ingest.RateLimit.WindowMs) * time.Millisecond
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Workflow.WebhookTimeoutMs) * time.Millisecond
}

func (c *Config) AliasCacheTTL() time.Duration {
	return time.Duration(c.Ingest.AliasCacheTTLSec) * time.Second
}

func (c *Config) HLSTokenTTL() time.Duration {
	return time.Duration(c.HLS.TokenTTLSec) * time.Second
}

// Env returns the named environment variable or a fallback.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
