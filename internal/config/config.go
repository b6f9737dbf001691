package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"dev"`
	Port int    `env:"PORT" envDefault:"8080"`

	// DBURL wins over the DB_* parts when set.
	DBURL          string   `env:"DATABASE_URL"`
	DB             DBConfig `envPrefix:"DB_"`
	MigrateOnStart bool     `env:"MIGRATE_ON_START" envDefault:"true"`

	JWTSecret         string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTAccessTTL      time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	InviteTokenSecret string        `env:"INVITE_TOKEN_SECRET" envDefault:"dev-invite-secret-change-me"`
	InviteBaseURL     string        `env:"INVITE_BASE_URL" envDefault:"http://localhost:3000"`
	DefaultInviteTTL  time.Duration `env:"INVITE_DEFAULT_TTL" envDefault:"168h"`
	ConflictRetries   int           `env:"REGISTRATION_CONFLICT_RETRIES" envDefault:"5"`
	RedeemRateLimit   int           `env:"INVITE_REDEEM_RATE_LIMIT" envDefault:"10"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	Redis RedisConfig `envPrefix:"REDIS_"`

	Tracing TracingConfig `envPrefix:"OTEL_"`

	Worker WorkerConfig `envPrefix:"WORKER_"`
	Mail   MailConfig   `envPrefix:"MAIL_"`
}

type DBConfig struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"eventhub"`
	Password string `env:"PASSWORD" envDefault:"eventhub"`
	Name     string `env:"NAME" envDefault:"eventhub"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`
}

// URL assembles a postgres connection string from the parts.
func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisConfig is optional; an empty Addr disables the wake signal and
// workers fall back to polling.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Channel  string `env:"WAKE_CHANNEL" envDefault:"eventhub:notifications:wake"`
}

// TracingConfig leaves tracing off while Endpoint is empty.
type TracingConfig struct {
	Endpoint    string  `env:"EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `env:"EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio float64 `env:"TRACES_SAMPLER_RATIO" envDefault:"1"`
}

type WorkerConfig struct {
	ID                  string        `env:"ID"`
	Concurrency         int           `env:"CONCURRENCY" envDefault:"4"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	LeaseTimeout        time.Duration `env:"LEASE_TIMEOUT" envDefault:"2m"`
	ReapInterval        time.Duration `env:"REAP_INTERVAL" envDefault:"30s"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase         time.Duration `env:"BACKOFF_BASE" envDefault:"30s"`
	BackoffCap          time.Duration `env:"BACKOFF_CAP" envDefault:"1h"`
	BackoffJitter       float64       `env:"BACKOFF_JITTER" envDefault:"0.2"`
	ReminderDedupWindow time.Duration `env:"REMINDER_DEDUP_WINDOW" envDefault:"24h"`
	ReminderLead        time.Duration `env:"REMINDER_LEAD" envDefault:"24h"`
	ReminderScan        time.Duration `env:"REMINDER_SCAN_INTERVAL" envDefault:"5m"`
	HealthPort          int           `env:"HEALTH_PORT" envDefault:"8081"`
}

type MailConfig struct {
	Provider string        `env:"PROVIDER" envDefault:"log"` // log|smtp|ses
	From     string        `env:"FROM" envDefault:"no-reply@eventhub.local"`
	FromName string        `env:"FROM_NAME" envDefault:"EventHub"`
	Timeout  time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	SESRegion          string `env:"SES_REGION" envDefault:"us-east-1"`
	SESAccessKeyID     string `env:"SES_ACCESS_KEY_ID"`
	SESSecretAccessKey string `env:"SES_SECRET_ACCESS_KEY"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DBURL == "" {
		cfg.DBURL = cfg.DB.URL()
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error

	if c.Env != "dev" && c.JWTSecret == "dev-secret-change-me" {
		errs = append(errs, errors.New("JWT_SECRET must be set outside dev"))
	}
	if c.Env != "dev" && c.InviteTokenSecret == "dev-invite-secret-change-me" {
		errs = append(errs, errors.New("INVITE_TOKEN_SECRET must be set outside dev"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, errors.New("WORKER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Worker.BackoffBase <= 0 || c.Worker.BackoffCap < c.Worker.BackoffBase {
		errs = append(errs, errors.New("WORKER_BACKOFF_BASE must be positive and not exceed WORKER_BACKOFF_CAP"))
	}
	if c.Worker.BackoffJitter < 0 || c.Worker.BackoffJitter >= 1 {
		errs = append(errs, errors.New("WORKER_BACKOFF_JITTER must be in [0, 1)"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLER_RATIO must be in [0, 1]"))
	}
	if c.Worker.LeaseTimeout <= 0 {
		errs = append(errs, errors.New("WORKER_LEASE_TIMEOUT must be positive"))
	}
	switch c.Mail.Provider {
	case "log", "smtp", "ses":
	default:
		errs = append(errs, fmt.Errorf("MAIL_PROVIDER %q is not one of log, smtp, ses", c.Mail.Provider))
	}
	if c.Mail.Provider == "smtp" && c.Mail.SMTPHost == "" {
		errs = append(errs, errors.New("MAIL_SMTP_HOST is required for the smtp provider"))
	}

	return errors.Join(errs...)
}
