package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Portal: Portal{
			BaseURL:         "https://www.sedarplus.ca",
			RequestInterval: time.Second,
			MaxInFlight:     4,
			MaxAttempts:     3,
			BackoffBase:     500 * time.Millisecond,
			Timeout:         60 * time.Second,
			PageSize:        5000,
			MaxPages:        200,
		},
		Ingest: Ingest{
			OverlapDays:   1,
			ChunkDays:     30,
			DownloadLimit: 4,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base_url", func(c *Config) { c.Portal.BaseURL = "" }},
		{"zero request_interval", func(c *Config) { c.Portal.RequestInterval = 0 }},
		{"zero max_in_flight", func(c *Config) { c.Portal.MaxInFlight = 0 }},
		{"negative max_attempts", func(c *Config) { c.Portal.MaxAttempts = -1 }},
		{"zero backoff_base", func(c *Config) { c.Portal.BackoffBase = 0 }},
		{"zero timeout", func(c *Config) { c.Portal.Timeout = 0 }},
		{"zero page_size", func(c *Config) { c.Portal.PageSize = 0 }},
		{"zero max_pages", func(c *Config) { c.Portal.MaxPages = 0 }},
		{"negative overlap_days", func(c *Config) { c.Ingest.OverlapDays = -1 }},
		{"zero chunk_days", func(c *Config) { c.Ingest.ChunkDays = 0 }},
		{"zero download_limit", func(c *Config) { c.Ingest.DownloadLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	// No config.yaml in an empty directory: defaults alone must validate.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://www.sedarplus.ca", cfg.Portal.BaseURL)
	assert.Equal(t, time.Second, cfg.Portal.RequestInterval)
	assert.Equal(t, 4, cfg.Portal.MaxInFlight)
	assert.Equal(t, 5000, cfg.Portal.PageSize)
	assert.Equal(t, 1, cfg.Ingest.OverlapDays)
	assert.Equal(t, 30, cfg.Ingest.ChunkDays)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FILINGS_PORTAL_MAX_IN_FLIGHT", "8")
	t.Setenv("FILINGS_INGEST_OVERLAP_DAYS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Portal.MaxInFlight)
	assert.Equal(t, 3, cfg.Ingest.OverlapDays)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(Log{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(Log{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(Log{Level: "nonsense", Format: "json"}))
}
