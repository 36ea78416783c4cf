// Package config loads the pipeline configuration from file and environment
// and installs the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Portal Portal `yaml:"portal" mapstructure:"portal"`
	Ingest Ingest `yaml:"ingest" mapstructure:"ingest"`
	Store  Store  `yaml:"store" mapstructure:"store"`
	Log    Log    `yaml:"log" mapstructure:"log"`
}

// Portal configures the disclosure portal client and its rate gate.
type Portal struct {
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
	RequestInterval time.Duration `yaml:"request_interval" mapstructure:"request_interval"`
	MaxInFlight     int           `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PageSize        int           `yaml:"page_size" mapstructure:"page_size"`
	MaxPages        int           `yaml:"max_pages" mapstructure:"max_pages"`
}

// Ingest configures reconciliation run behavior.
type Ingest struct {
	OverlapDays   int `yaml:"overlap_days" mapstructure:"overlap_days"`
	ChunkDays     int `yaml:"chunk_days" mapstructure:"chunk_days"`
	DownloadLimit int `yaml:"download_limit" mapstructure:"download_limit"`
}

// Store configures persistence. With a DatabaseURL the pipeline writes to
// Postgres; without one it falls back to a SQLite file under CacheDir.
type Store struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	DownloadDir string `yaml:"download_dir" mapstructure:"download_dir"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml and FILINGS_* environment
// variables, then validates it. Validation failures are fatal: a run must
// never start with a nonsensical rate limit or retry budget.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FILINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("portal.base_url", "https://www.sedarplus.ca")
	v.SetDefault("portal.user_agent", "filings-cli/1.0 (research)")
	v.SetDefault("portal.request_interval", "1s")
	v.SetDefault("portal.max_in_flight", 4)
	v.SetDefault("portal.max_attempts", 3)
	v.SetDefault("portal.backoff_base", "500ms")
	v.SetDefault("portal.timeout", "60s")
	v.SetDefault("portal.page_size", 5000)
	v.SetDefault("portal.max_pages", 200)
	v.SetDefault("ingest.overlap_days", 1)
	v.SetDefault("ingest.chunk_days", 30)
	v.SetDefault("ingest.download_limit", 4)
	v.SetDefault("store.cache_dir", "./data/cache")
	v.SetDefault("store.download_dir", "./data/documents")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects non-positive tuning values before any run starts.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"portal.base_url", c.Portal.BaseURL != ""},
		{"portal.request_interval", c.Portal.RequestInterval > 0},
		{"portal.max_in_flight", c.Portal.MaxInFlight > 0},
		{"portal.max_attempts", c.Portal.MaxAttempts > 0},
		{"portal.backoff_base", c.Portal.BackoffBase > 0},
		{"portal.timeout", c.Portal.Timeout > 0},
		{"portal.page_size", c.Portal.PageSize > 0},
		{"portal.max_pages", c.Portal.MaxPages > 0},
		{"ingest.overlap_days", c.Ingest.OverlapDays >= 0},
		{"ingest.chunk_days", c.Ingest.ChunkDays > 0},
		{"ingest.download_limit", c.Ingest.DownloadLimit > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return eris.Errorf("config: invalid value for %s", chk.name)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg Log) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
