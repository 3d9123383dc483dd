package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig
	API        APIConfig
	Token      TokenConfig
	Database   DatabaseConfig
	ETL        ETLConfig
	RabbitMQ   RabbitMQConfig
	ClickHouse ClickHouseConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type AppConfig struct {
	Env string `env:"APP_ENV" env-default:"development"`
}

// APIConfig describes the marketplace REST API and the client-side call policy.
type APIConfig struct {
	BaseURL      string        `env:"ML_API_URL" env-default:"https://api.mercadolibre.com"`
	Timeout      time.Duration `env:"ML_TIMEOUT" env-default:"30s"`
	UserAgent    string        `env:"ML_USER_AGENT" env-default:"MLExtractor/1.0"`
	RateLimit    int           `env:"ML_RATE_LIMIT" env-default:"100"`
	ClientID     string        `env:"ML_CLIENT_ID"`
	ClientSecret string        `env:"ML_CLIENT_SECRET"`

	MaxRetries       int           `env:"ML_MAX_RETRIES" env-default:"3"`
	RetryBaseDelay   time.Duration `env:"ML_RETRY_BASE_DELAY" env-default:"1s"`
	RateLimitBackoff time.Duration `env:"ML_RATE_LIMIT_BACKOFF" env-default:"60s"`
	MaxBackoff       time.Duration `env:"ML_MAX_BACKOFF" env-default:"300s"`
}

// TokenConfig points at the persisted OAuth token file. The fallback values are
// used when the file does not exist yet.
type TokenConfig struct {
	File            string `env:"ML_TOKEN_FILE" env-default:"./tokens.json"`
	FallbackAccess  string `env:"ML_ACCESS_TOKEN"`
	FallbackRefresh string `env:"ML_REFRESH_TOKEN"`
	FallbackExpires string `env:"ML_TOKEN_EXPIRES_AT" env-default:"1970-01-01T00:00:00"`
}

type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" env-default:"sqlite"`
	Path   string `env:"DB_PATH" env-default:"./data/orders.db"`

	Host     string `env:"POSTGRES_HOST" env-default:"postgres"`
	Port     int    `env:"POSTGRES_PORT" env-default:"5432"`
	Database string `env:"POSTGRES_DATABASE" env-default:"orders"`
	Username string `env:"POSTGRES_USERNAME" env-default:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" env-default:"postgres"`

	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"1h"`
}

type ETLConfig struct {
	BatchSize     int           `env:"ETL_BATCH_SIZE" env-default:"100"`
	PageDelay     time.Duration `env:"ETL_PAGE_DELAY" env-default:"500ms"`
	MaxEmptyPages int           `env:"ETL_MAX_EMPTY_PAGES" env-default:"3"`
	FailedDumpDir string        `env:"ETL_FAILED_DUMP_DIR" env-default:"."`
}

// RabbitMQConfig enables the order-loaded event publisher when URL is set.
type RabbitMQConfig struct {
	URL   string `env:"RABBITMQ_URL"`
	Queue string `env:"RABBITMQ_SELLER_ORDER_QUEUE" env-default:"dwh.seller_orders"`
}

// ClickHouseConfig enables the analytics mirror when Host is set.
type ClickHouseConfig struct {
	Host     string `env:"CLICKHOUSE_HOST"`
	Port     int    `env:"CLICKHOUSE_PORT" env-default:"9000"`
	Database string `env:"CLICKHOUSE_DATABASE" env-default:"ocm_dev"`
	Username string `env:"CLICKHOUSE_USERNAME" env-default:"default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"console"`
	Output string `env:"LOG_OUTPUT" env-default:"stdout"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR"`
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("ML_API_URL is required"))
	}
	if c.API.RateLimit <= 0 {
		errs = append(errs, errors.New("ML_RATE_LIMIT must be positive"))
	}
	if c.API.MaxRetries <= 0 {
		errs = append(errs, errors.New("ML_MAX_RETRIES must be positive"))
	}
	if c.ETL.BatchSize <= 0 {
		errs = append(errs, errors.New("ETL_BATCH_SIZE must be positive"))
	}
	if c.ETL.MaxEmptyPages <= 0 {
		errs = append(errs, errors.New("ETL_MAX_EMPTY_PAGES must be positive"))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, errors.New("POSTGRES_HOST is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}
