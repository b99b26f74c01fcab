package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

// daemonConfig holds the process settings that are not part of
// goIdentity.Config.
type daemonConfig struct {
	HTTPAddr        string        `env:"IDENTITY_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"IDENTITY_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"IDENTITY_REDIS_ADDR"`
	RedisPassword string `env:"IDENTITY_REDIS_PASSWORD,unset"`
	RedisDB       int    `env:"IDENTITY_REDIS_DB" envDefault:"0"`

	DatabaseDriver string `env:"IDENTITY_DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"IDENTITY_DATABASE_DSN" envDefault:"identity.db"`

	BootstrapAdminEmail    string `env:"IDENTITY_BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `env:"IDENTITY_BOOTSTRAP_ADMIN_PASSWORD,unset"`

	// NotifyWebhookURL receives reset and verification tokens. Without it
	// tokens are issued but never delivered.
	NotifyWebhookURL     string        `env:"IDENTITY_NOTIFY_WEBHOOK_URL"`
	NotifyWebhookTimeout time.Duration `env:"IDENTITY_NOTIFY_WEBHOOK_TIMEOUT" envDefault:"5s"`

	// OTelMetricsEndpoint is the full OTLP/HTTP metrics URL, for example
	// http://collector:4318/v1/metrics.
	OTelMetricsEndpoint string        `env:"IDENTITY_OTEL_METRICS_ENDPOINT"`
	OTelExportInterval  time.Duration `env:"IDENTITY_OTEL_EXPORT_INTERVAL" envDefault:"30s"`
}

func loadDaemonConfig() (daemonConfig, error) {
	var cfg daemonConfig
	if err := env.Parse(&cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("parse daemon env: %w", err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if err := cfg.validate(); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func (c daemonConfig) validate() error {
	switch c.DatabaseDriver {
	case driverSQLite, driverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("IDENTITY_DATABASE_DSN is required for driver %q", c.DatabaseDriver)
		}
	case driverMemory:
	default:
		return fmt.Errorf("unsupported IDENTITY_DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return fmt.Errorf("IDENTITY_BOOTSTRAP_ADMIN_EMAIL and IDENTITY_BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("IDENTITY_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.NotifyWebhookURL != "" {
		u, err := url.Parse(c.NotifyWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("IDENTITY_NOTIFY_WEBHOOK_URL must be an absolute http(s) URL")
		}
		if c.NotifyWebhookTimeout <= 0 {
			return fmt.Errorf("IDENTITY_NOTIFY_WEBHOOK_TIMEOUT must be > 0")
		}
	}
	if c.OTelMetricsEndpoint != "" && c.OTelExportInterval <= 0 {
		return fmt.Errorf("IDENTITY_OTEL_EXPORT_INTERVAL must be > 0")
	}
	return nil
}
