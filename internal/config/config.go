package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, read from the environment once at
// startup. An empty DatabaseURL selects the in-memory store.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"commerce-core"`
	Env         string `envconfig:"ENV" default:"dev"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	LogFile     string `envconfig:"LOG_FILE"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	StripeAPIKey        string        `envconfig:"STRIPE_API_KEY"`
	StripeBaseURL       string        `envconfig:"STRIPE_BASE_URL"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeCurrency      string        `envconfig:"STRIPE_CURRENCY" default:"usd"`
	GatewayTimeout      time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	SeedDemoData    bool          `envconfig:"SEED_DEMO_DATA" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return &cfg, nil
}
