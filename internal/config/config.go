package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/castline/castline/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logger     logger.Config    `yaml:"logger"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Refresher  RefresherConfig  `yaml:"refresher"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// TriggerSecret authenticates external cron callers on /api/v1/cron/*.
	TriggerSecret string `yaml:"trigger_secret"`
	// TOTPSecret, when set, lets an operator fire cron routes manually with a
	// one-time code instead of the shared secret.
	TOTPSecret string `yaml:"totp_secret"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// EntryTTL bounds how long an orphaned queue entry may outlive its job.
	EntryTTL string `yaml:"entry_ttl"`
}

type DispatcherConfig struct {
	Enabled bool `yaml:"enabled"`
	// TickInterval drives the in-process dispatch loop; external cron callers
	// may fire the trigger endpoint on top of it, overlap is safe.
	TickInterval string `yaml:"tick_interval"`
	PollInterval string `yaml:"poll_interval"`
	MaxJobsPerCycle int `yaml:"max_jobs_per_cycle"`
	// ProcessingTimeout bounds how long a claimed job may sit in processing
	// before the poller fails it.
	ProcessingTimeout string `yaml:"processing_timeout"`
}

type RefresherConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression, default hourly.
	Schedule  string `yaml:"schedule"`
	Lookahead string `yaml:"lookahead"`
}

type PlatformsConfig struct {
	Instagram InstagramConfig `yaml:"instagram"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
}

type InstagramConfig struct {
	GraphBaseURL string `yaml:"graph_base_url"`
	// PollInterval and PollAttempts bound the synchronous status wait inside
	// a single publish attempt; anything slower falls to the poller.
	PollInterval   string `yaml:"poll_interval"`
	PollAttempts   int    `yaml:"poll_attempts"`
	RequestTimeout string `yaml:"request_timeout"`
}

type YouTubeConfig struct {
	UploadBaseURL  string `yaml:"upload_base_url"`
	APIBaseURL     string `yaml:"api_base_url"`
	TokenURL       string `yaml:"token_url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RequestTimeout string `yaml:"request_timeout"`
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
		cfg.Server.Port = 5812
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
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
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.EntryTTL == "" {
		cfg.Redis.EntryTTL = "168h"
	}
	if cfg.Dispatcher.TickInterval == "" {
		cfg.Dispatcher.TickInterval = "1m"
	}
	if cfg.Dispatcher.PollInterval == "" {
		cfg.Dispatcher.PollInterval = "1m"
	}
	if cfg.Dispatcher.MaxJobsPerCycle == 0 {
		cfg.Dispatcher.MaxJobsPerCycle = 20
	}
	if cfg.Dispatcher.ProcessingTimeout == "" {
		cfg.Dispatcher.ProcessingTimeout = "5m"
	}
	if cfg.Refresher.Schedule == "" {
		cfg.Refresher.Schedule = "0 * * * *"
	}
	if cfg.Refresher.Lookahead == "" {
		cfg.Refresher.Lookahead = "720h"
	}
	if cfg.Platforms.Instagram.GraphBaseURL == "" {
		cfg.Platforms.Instagram.GraphBaseURL = "https://graph.instagram.com/v23.0"
	}
	if cfg.Platforms.Instagram.PollInterval == "" {
		cfg.Platforms.Instagram.PollInterval = "2s"
	}
	if cfg.Platforms.Instagram.PollAttempts == 0 {
		cfg.Platforms.Instagram.PollAttempts = 5
	}
	if cfg.Platforms.Instagram.RequestTimeout == "" {
		cfg.Platforms.Instagram.RequestTimeout = "30s"
	}
	if cfg.Platforms.YouTube.UploadBaseURL == "" {
		cfg.Platforms.YouTube.UploadBaseURL = "https://www.googleapis.com/upload/youtube/v3"
	}
	if cfg.Platforms.YouTube.APIBaseURL == "" {
		cfg.Platforms.YouTube.APIBaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if cfg.Platforms.YouTube.TokenURL == "" {
		cfg.Platforms.YouTube.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.Platforms.YouTube.RequestTimeout == "" {
		cfg.Platforms.YouTube.RequestTimeout = "120s"
	}

	return cfg, nil
}
