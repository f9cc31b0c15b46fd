package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database struct {
		// Path to the sqlite file
		Path string `env:"DB_PATH" envDefault:"validator.db"`

		// Time to wait for the store lock before a tick is abandoned
		LockTimeout time.Duration `env:"DB_LOCK_TIMEOUT" envDefault:"10s"`
	}

	Markets struct {
		// Optional YAML file replacing the built-in market list
		File string `env:"MARKETS_FILE"`

		// Pool size threshold, in outbound batches, that triggers a refill
		RefillThreshold int `env:"MARKETS_REFILL_THRESHOLD" envDefault:"5"`

		CheckInterval time.Duration `env:"MARKETS_CHECK_INTERVAL" envDefault:"1m"`
	}

	Listings struct {
		BaseURL string `env:"LISTINGS_BASE_URL" envDefault:"https://redfin-com-data.p.rapidapi.com"`
		APIKey  string `env:"LISTINGS_API_KEY"`
		APIHost string `env:"LISTINGS_API_HOST" envDefault:"redfin-com-data.p.rapidapi.com"`

		PageSize int `env:"LISTINGS_PAGE_SIZE" envDefault:"350"`

		// Sold homes are requested for this many trailing days
		SoldWithinDays int `env:"LISTINGS_SOLD_WITHIN_DAYS" envDefault:"21"`

		// Requests per second against the listings API
		RateLimit float64 `env:"LISTINGS_RATE_LIMIT" envDefault:"2"`
		Burst     int     `env:"LISTINGS_BURST" envDefault:"1"`

		Timeout time.Duration `env:"LISTINGS_TIMEOUT" envDefault:"30s"`

		// Consecutive failures before the circuit opens
		BreakerFailures uint32        `env:"LISTINGS_BREAKER_FAILURES" envDefault:"5"`
		BreakerTimeout  time.Duration `env:"LISTINGS_BREAKER_TIMEOUT" envDefault:"1m"`
	}

	Pipeline struct {
		// Maximum number of properties per outbound batch
		BatchSize int `env:"PIPELINE_BATCH_SIZE" envDefault:"1200"`

		TickInterval time.Duration `env:"PIPELINE_TICK_INTERVAL" envDefault:"2m"`

		// Number of concurrent workers preprocessing miner responses
		IngestWorkers int `env:"PIPELINE_INGEST_WORKERS" envDefault:"4"`

		// Maximum number of retries when the store is busy during ingestion
		MaxRetries int           `env:"PIPELINE_MAX_RETRIES" envDefault:"3"`
		RetryDelay time.Duration `env:"PIPELINE_RETRY_DELAY" envDefault:"2s"`

		// How long an outbound batch waits for relayed responses
		PendingTTL time.Duration `env:"PIPELINE_PENDING_TTL" envDefault:"10m"`
	}

	Scoring struct {
		SweepInterval time.Duration `env:"SCORING_SWEEP_INTERVAL" envDefault:"5m"`

		// Unscored predictions older than this many days are evicted
		RetentionDays int `env:"SCORING_RETENTION_DAYS" envDefault:"21"`

		SalesRefreshInterval time.Duration `env:"SCORING_SALES_REFRESH_INTERVAL" envDefault:"12h"`
		SalesCheckInterval   time.Duration `env:"SCORING_SALES_CHECK_INTERVAL" envDefault:"10m"`
	}

	Weights struct {
		Interval time.Duration `env:"WEIGHTS_INTERVAL" envDefault:"1h"`
	}

	Miners struct {
		SyncInterval time.Duration `env:"MINERS_SYNC_INTERVAL" envDefault:"15m"`

		// Network miner list; registry sync is disabled when empty
		Network []string `env:"MINERS_NETWORK" envSeparator:","`
	}

	Reporting struct {
		Enabled   bool          `env:"REPORTING_ENABLED" envDefault:"false"`
		BaseURL   string        `env:"REPORTING_BASE_URL" envDefault:"https://dashboard.nextplace.ai/api"`
		QueueSize int           `env:"REPORTING_QUEUE_SIZE" envDefault:"64"`
		Timeout   time.Duration `env:"REPORTING_TIMEOUT" envDefault:"10s"`
	}

	API struct {
		Port string `env:"API_PORT" envDefault:"5250"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
