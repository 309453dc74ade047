package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ordersync/internal/logger"
)

type Config struct {
	Mode    string        `mapstructure:"mode"` // debug / release
	Channel ChannelConfig `mapstructure:"channel"`
	API     APIConfig     `mapstructure:"api"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Log     LogConfig     `mapstructure:"log"`
}

// ChannelConfig points at the realtime query channel endpoint.
type ChannelConfig struct {
	URL string `mapstructure:"url"`
}

// APIConfig covers the plain HTTP endpoints used by the consumer poller.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type AdminConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
	PageSize   int `mapstructure:"page_size"`
}

func (c AdminConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

type TrackerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

func (c TrackerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type AuditConfig struct {
	Workers   int `mapstructure:"workers"`
	BatchSize int `mapstructure:"batch_size"`
	TimeoutMS int `mapstructure:"timeout_ms"`
	QueueSize int `mapstructure:"queue_size"`
}

func (c AuditConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// Load reads config.yml from the working directory (or its parent when run
// from cmd/), layered under environment variables (CHANNEL_URL, API_TOKEN
// and so on). Missing file means defaults plus environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../")
	v.AddConfigPath("./etc")

	v.SetDefault("mode", "debug")
	v.SetDefault("channel.url", "ws://127.0.0.1:8080/ws/admin/orders")
	v.SetDefault("api.base_url", "http://127.0.0.1:8080/api")
	v.SetDefault("api.token", "")
	v.SetDefault("admin.debounce_ms", 500)
	v.SetDefault("admin.page_size", 10)
	v.SetDefault("tracker.interval_seconds", 30)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.batch_size", 16)
	v.SetDefault("audit.timeout_ms", 1000)
	v.SetDefault("audit.queue_size", 256)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "ordersync.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
