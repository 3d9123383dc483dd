package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.mercadolibre.com", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, time.Minute, cfg.API.RateLimitBackoff)
	assert.Equal(t, 5*time.Minute, cfg.API.MaxBackoff)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./data/orders.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.ETL.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.ETL.PageDelay)
	assert.Equal(t, 3, cfg.ETL.MaxEmptyPages)
	assert.Empty(t, cfg.RabbitMQ.URL)
	assert.Empty(t, cfg.ClickHouse.Host)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ETL_BATCH_SIZE", "25")
	t.Setenv("ML_RATE_LIMIT", "10")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("ETL_PAGE_DELAY", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.ETL.BatchSize)
	assert.Equal(t, 10, cfg.API.RateLimit)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 2*time.Second, cfg.ETL.PageDelay)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API:      APIConfig{BaseURL: "http://api", RateLimit: 10, MaxRetries: 3},
			Database: DatabaseConfig{Driver: "sqlite", Path: "orders.db"},
			ETL:      ETLConfig{BatchSize: 50, MaxEmptyPages: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero batch size", mutate: func(c *Config) { c.ETL.BatchSize = 0 }, wantErr: "ETL_BATCH_SIZE"},
		{name: "zero rate limit", mutate: func(c *Config) { c.API.RateLimit = 0 }, wantErr: "ML_RATE_LIMIT"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "unknown DB_DRIVER"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "DB_PATH"},
		{
			name:    "postgres without host",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "POSTGRES_HOST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
