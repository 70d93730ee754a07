package notify

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/config"
)

const (
	breakerFailures = 5
	breakerOpenFor  = time.Minute
)

// NewSenders builds the email and WhatsApp senders from cfg. Configured
// transports sit behind a circuit breaker; unconfigured ones only log.
func NewSenders(cfg *config.Config, log *zap.Logger) (email, whatsapp Sender) {
	email = &LogSender{Log: log.Named("email")}
	if cfg.SMTP.Host != "" {
		email = NewBreakerSender("smtp", NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}), breakerFailures, breakerOpenFor, log)
	}

	whatsapp = &LogSender{Log: log.Named("whatsapp")}
	if cfg.WhatsAppAPIURL != "" {
		whatsapp = NewBreakerSender("whatsapp", &WhatsAppSender{
			URL:    cfg.WhatsAppAPIURL,
			Token:  cfg.WhatsAppToken,
			Client: &http.Client{Timeout: cfg.SendTimeout},
		}, breakerFailures, breakerOpenFor, log)
	}
	return email, whatsapp
}
