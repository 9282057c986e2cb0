package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkozyrev/mpcrawl/internal/config"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, config.Init(""))
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, "mpcrawl", cfg.App.Name)
	assert.Equal(t, "mpcrawl", cfg.Database.Name)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)

	assert.InDelta(t, config.DefaultMultiplier, cfg.Crawler.Multiplier, 0.001)
	assert.Equal(t, config.DefaultBatchSize, cfg.Crawler.BatchSize)
	assert.Equal(t, config.DefaultLeaseTimeout, cfg.Crawler.LeaseTimeout)
	assert.Equal(t, config.DefaultRetryDelay, cfg.Crawler.RetryDelay)
	assert.Equal(t, "@every 5m", cfg.Crawler.ReapEvery)

	assert.Equal(t, 24*time.Hour, cfg.Intervals.Revisions)
	assert.Equal(t, 7*24*time.Hour, cfg.Intervals.ItemFacts)

	assert.Equal(t, "wildberries", cfg.Marketplace.Name)
	assert.Equal(t, 100, cfg.Marketplace.ItemsPerPage)
}

func TestLoad_DurationStrings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, config.Init(""))
	viper.Set("crawler.lease_timeout", "45m")
	viper.Set("intervals.revisions", "12h")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.Crawler.LeaseTimeout)
	assert.Equal(t, 12*time.Hour, cfg.Intervals.Revisions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*config.Config) {},
		},
		{
			name:    "negative multiplier",
			mutate:  func(c *config.Config) { c.Crawler.Multiplier = -1 },
			wantErr: "crawler.multiplier",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *config.Config) { c.Crawler.BatchSize = 0 },
			wantErr: "crawler.batch_size",
		},
		{
			name:    "zero lease timeout",
			mutate:  func(c *config.Config) { c.Crawler.LeaseTimeout = 0 },
			wantErr: "crawler.lease_timeout",
		},
		{
			name:    "missing database name",
			mutate:  func(c *config.Config) { c.Database.Name = "" },
			wantErr: "database.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
