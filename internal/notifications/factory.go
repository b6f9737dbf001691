package notifications

import (
	"fmt"
	"log/slog"

	"github.com/geocoder89/eventhub-registrations/internal/config"
)

// New builds the configured provider behind a circuit breaker.
func New(cfg config.MailConfig, log *slog.Logger) (*ProtectedNotifier, error) {
	var inner Notifier

	switch cfg.Provider {
	case "log":
		inner = NewLogNotifier(log)
	case "smtp":
		inner = NewSMTPNotifier(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			FromName: cfg.FromName,
		})
	case "ses":
		inner = NewSESNotifier(SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretAccessKey,
			From:            cfg.From,
			FromName:        cfg.FromName,
		})
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}

	log.Info("notifier configured", "provider", cfg.Provider, "from", cfg.From)
	return NewProtectedNotifier(inner, ProtectedNotifierConfig{Timeout: cfg.Timeout}), nil
}
