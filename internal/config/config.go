// internal/config/config.go
package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Database struct {
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	Name     string `env:"DB_NAME" envDefault:"reach"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN builds a lib/pq connection URL with user and password escaped.
func (d Database) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

type SMTP struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" envDefault:"campaigns@localhost"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	// RecipientRPM limits recipient and registration calls per client IP.
	RecipientRPM int `env:"RECIPIENT_RPM" envDefault:"60"`

	// StoreDriver selects postgres or the in-process memory store.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DB          Database
	AMQPURL     string `env:"AMQP_URL"`
	Redis       Redis
	SMTP        SMTP

	WhatsAppAPIURL string `env:"WHATSAPP_API_URL"`
	WhatsAppToken  string `env:"WHATSAPP_TOKEN"`

	DispatchWorkers      int           `env:"DISPATCH_WORKERS" envDefault:"8"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	ReconcileMaxAttempts int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"3"`
	RegistrationTTL      time.Duration `env:"REGISTRATION_TTL" envDefault:"10m"`

	UnnotifiedReportSpec string        `env:"UNNOTIFIED_REPORT_SPEC" envDefault:"@every 15m"`
	UnnotifiedGrace      time.Duration `env:"UNNOTIFIED_GRACE" envDefault:"10m"`
}

// Load reads .env when present and parses the environment into a Config.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, dotenv, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DispatchWorkers < 1 {
		cfg.DispatchWorkers = 1
	}
	if cfg.ReconcileMaxAttempts < 1 {
		cfg.ReconcileMaxAttempts = 1
	}
	return cfg, dotenv, nil
}
