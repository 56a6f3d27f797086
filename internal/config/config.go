package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           string `envconfig:"PORT" default:"8080"`
	Environment    string `envconfig:"ENV" default:"production"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"debug"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"268435456"`

	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`

	// Payment gateway settings
	StripeSecretKey         string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookSecretName string `envconfig:"STRIPE_WEBHOOK_SECRET_NAME"`
	PaymentSigningSecret    string `envconfig:"PAYMENT_SIGNING_SECRET"`
	StripePriceProMonthly   string `envconfig:"STRIPE_PRICE_PRO_MONTHLY"`
	StripePriceProYearly    string `envconfig:"STRIPE_PRICE_PRO_YEARLY"`
	StripePriceBizMonthly   string `envconfig:"STRIPE_PRICE_BUSINESS_MONTHLY"`
	StripePriceBizYearly    string `envconfig:"STRIPE_PRICE_BUSINESS_YEARLY"`

	// Saved-file storage; disabled when S3Bucket is empty
	S3URL       string `envconfig:"S3_URL"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	// GCP settings; event publishing is disabled when GCPProjectID is empty
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	GCPCredentialsFile string `envconfig:"GCP_CREDENTIALS_FILE"`
	EventsTopic        string `envconfig:"EVENTS_TOPIC" default:"billing-events"`

	// Period-end reconciler settings
	PeriodEndQueueName           string `envconfig:"PERIOD_END_QUEUE_NAME" default:"period_end_queue"`
	PeriodEndDeadLetterQueueName string `envconfig:"PERIOD_END_DEAD_LETTER_QUEUE_NAME" default:"period_end_queue_dlq"`
	PeriodEndPollTimeoutSec      int    `envconfig:"PERIOD_END_POLL_TIMEOUT_SEC" default:"30"`
	PeriodEndPollMaxMsg          int    `envconfig:"PERIOD_END_POLL_MAX_MSG" default:"10"`
	PeriodEndMaxRetries          int    `envconfig:"PERIOD_END_MAX_RETRIES" default:"5"`
	PeriodEndBackoffInitialSec   int    `envconfig:"PERIOD_END_BACKOFF_INITIAL_SEC" default:"1"`
	PeriodEndBackoffMaxSec       int    `envconfig:"PERIOD_END_BACKOFF_MAX_SEC" default:"60"`
	SweepIntervalSec             int    `envconfig:"SWEEP_INTERVAL_SEC" default:"3600"`
	SweepBatchSize               int    `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabaseURL builds a postgres URL usable by both pgx and lib/pq.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// PriceIDs maps plan ids to gateway price ids.
func (c *Config) PriceIDs() map[string]string {
	return map[string]string{
		"pro_monthly":      c.StripePriceProMonthly,
		"pro_yearly":       c.StripePriceProYearly,
		"business_monthly": c.StripePriceBizMonthly,
		"business_yearly":  c.StripePriceBizYearly,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
