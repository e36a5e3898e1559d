package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dmitrymomot/mailroom/pkg/db"
	"github.com/dmitrymomot/mailroom/pkg/logger"
	"github.com/dmitrymomot/mailroom/pkg/mailer/resend"
	"github.com/dmitrymomot/mailroom/pkg/mailer/ses"
)

// Email provider selectors.
const (
	ProviderSES    = "ses"
	ProviderResend = "resend"
)

// Config aggregates every component's settings, all sourced from the
// environment.
type Config struct {
	Addr        string     `env:"HTTP_ADDR" envDefault:":8080"`
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// MailerProvider selects the delivery transport: ses or resend.
	MailerProvider string `env:"MAILER_PROVIDER" envDefault:"ses"`

	// RedisURL, when set, backs the auth cache with Redis instead of
	// process memory.
	RedisURL string `env:"REDIS_URL"`

	QueueWorkers    int           `env:"QUEUE_WORKERS" envDefault:"10"`
	MaxSendAttempts int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff    time.Duration `env:"QUEUE_RETRY_BACKOFF" envDefault:"5s"`
	SendTimeout     time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	AuthCacheTTL    time.Duration `env:"AUTH_CACHE_TTL" envDefault:"30s"`
	LogRetention    time.Duration `env:"LOG_RETENTION" envDefault:"2160h"`

	DB     db.Config
	SES    ses.Config
	Resend resend.Config
	Sentry logger.SentryConfig
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if cfg.MailerProvider != ProviderSES && cfg.MailerProvider != ProviderResend {
		return nil, fmt.Errorf("config: unknown mailer provider %q", cfg.MailerProvider)
	}
	return cfg, nil
}
