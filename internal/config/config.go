// Package config defines the global configuration for the subscription
// entitlement engine. Configuration is loaded once at process initialization
// and is immutable thereafter; it follows 12-Factor principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"subscription-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Quota    QuotaConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CorsAllowedOrigins []string   `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// QuotaConfig holds the tunable policy knobs of the quota engine.
type QuotaConfig struct {
	// ReconcileWindow selects the window recalculate sums ledger rows over:
	// subscription_start (default) or billing_period.
	ReconcileWindow types.ReconcileWindow `envconfig:"QUOTA_RECONCILE_WINDOW" default:"subscription_start" validate:"oneof=subscription_start billing_period"`

	// LowCreditsThreshold is the absolute remaining-credit count below which
	// a channel is reported as low on credits.
	LowCreditsThreshold int64 `envconfig:"QUOTA_LOW_CREDITS_THRESHOLD" default:"10" validate:"min=0"`

	// NearLimitPercent is the usage percentage at or above which a channel
	// is reported as near its limit.
	NearLimitPercent float64 `envconfig:"QUOTA_NEAR_LIMIT_PERCENT" default:"80" validate:"min=0,max=100"`

	// MigrationBatchSize bounds how many users a single backfill batch
	// claims, keeping each transaction short.
	MigrationBatchSize int `envconfig:"QUOTA_MIGRATION_BATCH_SIZE" default:"50" validate:"min=1"`

	// MigrationConcurrency bounds how many users are backfilled in parallel.
	MigrationConcurrency int `envconfig:"QUOTA_MIGRATION_CONCURRENCY" default:"4" validate:"min=1"`

	// ExpirySweepInterval is how often the background sweep persists the
	// derived EXPIRED status. Zero disables the sweep.
	ExpirySweepInterval time.Duration `envconfig:"QUOTA_EXPIRY_SWEEP_INTERVAL" default:"1h"`

	// ExpirySweepBatchLimit bounds how many subscriptions one sweep pass
	// updates, so the sweep never holds live-traffic row locks for long.
	ExpirySweepBatchLimit int `envconfig:"QUOTA_EXPIRY_SWEEP_BATCH_LIMIT" default:"200" validate:"min=1"`
}

// MetricsConfig holds the CloudWatch metrics publisher settings.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"ServicesSMS/QuotaEngine"`
	Region    string `envconfig:"AWS_REGION" default:"eu-west-1"`
}
