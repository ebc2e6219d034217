package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/gbpufscar/revfirst-social-sub001/internal/editorial"
	"github.com/gbpufscar/revfirst-social-sub001/pkg/logger"
)

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Database   DatabaseConfig    `yaml:"database"`
	Logger     logger.Config     `yaml:"logger"`
	Auth       AuthConfig        `yaml:"auth"`
	Redis      RedisConfig       `yaml:"redis"`
	Media      MediaConfig       `yaml:"media"`
	Publishers []PublisherConfig `yaml:"publishers"`
	Sources    SourcesConfig     `yaml:"sources"`
	Editorial  EditorialConfig   `yaml:"editorial"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Ledger     LedgerConfig      `yaml:"ledger"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type AuthConfig struct {
	Secret          string `yaml:"secret"`
	TokenExpMinutes int    `yaml:"token_exp_minutes"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MediaConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
	PublicBaseURL   string `yaml:"public_base_url"`
	ProviderWebhook string `yaml:"provider_webhook"`
}

// PublisherConfig declares one outbound channel webhook. The channel name
// must match the queue item type it should receive.
type PublisherConfig struct {
	Channel  string `yaml:"channel"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// SourcesConfig points the ingestion pipelines at their candidate feeds.
// An empty endpoint disables that feed; the pipeline still runs and
// reports zero candidates.
type SourcesConfig struct {
	OpenCalls string `yaml:"open_calls"`
	Trends    string `yaml:"trends"`
	Replies   string `yaml:"replies"`
	Token     string `yaml:"token"`
}

// EditorialConfig carries the daily publish windows as a comma-separated
// HH:MM list (UTC). Invalid values fail startup, not individual calls.
type EditorialConfig struct {
	DailyPublishWindowsUTC string `yaml:"daily_publish_windows_utc"`
	CooldownMinutes        int    `yaml:"cooldown_minutes"`
}

type RateLimitConfig struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

type SchedulerConfig struct {
	TickInterval   string `yaml:"tick_interval"`
	Disabled       bool   `yaml:"disabled"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LedgerConfig sets the reclamation policy for runs abandoned mid-flight:
// a started row older than StaleAfter may be taken over, younger ones are
// conflicts.
type LedgerConfig struct {
	StaleAfter string `yaml:"stale_after"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Auth.TokenExpMinutes == 0 {
		cfg.Auth.TokenExpMinutes = 60
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Media.Bucket == "" {
		cfg.Media.Bucket = "media-assets"
	}
	if cfg.Editorial.DailyPublishWindowsUTC == "" {
		cfg.Editorial.DailyPublishWindowsUTC = editorial.DefaultDailyWindows
	}
	if cfg.Editorial.CooldownMinutes == 0 {
		cfg.Editorial.CooldownMinutes = 120
	}
	if cfg.RateLimit.Capacity == 0 {
		cfg.RateLimit.Capacity = 10
	}
	if cfg.RateLimit.RefillPerSecond == 0 {
		cfg.RateLimit.RefillPerSecond = 0.5
	}
	if cfg.Scheduler.TickInterval == "" {
		cfg.Scheduler.TickInterval = "30m"
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 300
	}
	if cfg.Ledger.StaleAfter == "" {
		cfg.Ledger.StaleAfter = "30m"
	}

	// Windows are validated once at startup so a malformed set fails the
	// process instead of individual scheduling calls.
	if _, err := editorial.ParseDailyWindows(cfg.Editorial.DailyPublishWindowsUTC); err != nil {
		return nil, err
	}

	return cfg, nil
}
