// Command identityd serves goIdentity over HTTP.
//
// Configuration comes from the environment, optionally seeded from a .env
// file in the working directory. Accounts live in SQLite, PostgreSQL or
// memory; sessions, reset and verification tokens live in Redis when
// IDENTITY_REDIS_ADDR is set and in memory otherwise. Issued tokens are
// posted to IDENTITY_NOTIFY_WEBHOOK_URL, and counters are pushed over OTLP
// when IDENTITY_OTEL_METRICS_ENDPOINT is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/httpapi"
	"github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/MrEthical07/goIdentity/store/postgres"
	"github.com/MrEthical07/goIdentity/store/sqlite"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetPrefix("[IDENTITY] ")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("identityd: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := goIdentity.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	daemon, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	logger := log.Default()
	for _, w := range cfg.Lint() {
		logger.Printf("config lint [%s] %s: %s", w.Severity, w.Code, w.Message)
	}

	builder := goIdentity.New().WithConfig(cfg).WithLogger(logger)

	closeAccounts, err := openAccounts(ctx, daemon, builder)
	if err != nil {
		return err
	}
	defer closeAccounts()

	if daemon.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     daemon.RedisAddr,
			Password: daemon.RedisPassword,
			DB:       daemon.RedisDB,
		})
		defer func() { _ = client.Close() }()
		builder.WithRedis(client)
	} else {
		logger.Printf("IDENTITY_REDIS_ADDR not set; sessions and tokens are kept in memory")
		mem := memory.New()
		builder.WithSessionStore(mem).WithResetTokenStore(mem).WithVerificationTokenStore(mem)
	}

	if daemon.NotifyWebhookURL != "" {
		notifier := newWebhookNotifier(daemon.NotifyWebhookURL, daemon.NotifyWebhookTimeout)
		builder.WithResetNotifier(notifier).WithVerificationNotifier(notifier)
	} else {
		logger.Printf("IDENTITY_NOTIFY_WEBHOOK_URL not set; reset and verification tokens are not delivered")
	}

	svc, err := builder.Build()
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = svc.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("session store unreachable: %w", err)
	}

	if daemon.BootstrapAdminEmail != "" {
		if err := bootstrapAdmin(ctx, svc, daemon.BootstrapAdminEmail, daemon.BootstrapAdminPassword, logger); err != nil {
			return err
		}
	}

	shutdownMetrics := func(context.Context) error { return nil }
	switch {
	case daemon.OTelMetricsEndpoint == "":
	case !cfg.Metrics.Enabled:
		logger.Printf("IDENTITY_OTEL_METRICS_ENDPOINT ignored; metrics are disabled")
	default:
		shutdownMetrics, err = setupMetricsExport(ctx, daemon.OTelMetricsEndpoint, daemon.OTelExportInterval, svc)
		if err != nil {
			return fmt.Errorf("otel metrics export: %w", err)
		}
	}

	var opts []httpapi.Option
	opts = append(opts, httpapi.WithLogger(logger))
	if cfg.Metrics.Enabled {
		opts = append(opts, httpapi.WithMetricsHandler(prometheus.NewExporter(svc).Handler()))
	}

	httpServer := &http.Server{
		Addr:              daemon.HTTPAddr,
		Handler:           httpapi.NewServer(svc, opts...).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("identityd listening on %s (accounts=%s, mode=%s)", daemon.HTTPAddr, daemon.DatabaseDriver, cfg.ValidationMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		_ = shutdownMetrics(context.Background())
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), daemon.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Printf("metrics export shutdown error: %v", err)
	}
	return nil
}

// openAccounts wires the account repository selected by the daemon config
// into b and returns its closer.
func openAccounts(ctx context.Context, cfg daemonConfig, b *goIdentity.Builder) (func(), error) {
	switch cfg.DatabaseDriver {
	case driverSQLite:
		store, err := sqlite.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite account store: %w", err)
		}
		b.WithAccountRepository(store)
		return func() { _ = store.Close() }, nil
	case driverPostgres:
		store, err := postgres.Connect(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres account store: %w", err)
		}
		b.WithAccountRepository(store)
		return store.Close, nil
	case driverMemory:
		b.WithAccountRepository(memory.New())
		return func() {}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
}

// bootstrapAdmin makes sure an Active admin account exists for email. An
// existing account is left untouched whatever its role.
func bootstrapAdmin(ctx context.Context, svc *goIdentity.Service, email, pw string, logger *log.Logger) error {
	acct, err := svc.Register(ctx, goIdentity.RegisterInput{
		Email:     email,
		Password:  pw,
		FirstName: "Bootstrap",
		LastName:  "Admin",
		Role:      goIdentity.RoleAdmin,
	})
	if errors.Is(err, goIdentity.ErrAccountExists) {
		logger.Printf("bootstrap admin already present")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if _, err := svc.VerifyEmail(ctx, acct.ID); err != nil {
		return fmt.Errorf("bootstrap admin verify: %w", err)
	}
	logger.Printf("bootstrap admin created account_id=%s", acct.ID)
	return nil
}
