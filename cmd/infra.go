package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
	redisclient "github.com/frahmantamala/stay-payments/pkg/redis"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const callbackPath = "/api/v1/payments/callback"

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both use one set of connections.
func initGorm(db *sqlx.DB, env string) (*gorm.DB, error) {
	level := gormlogger.Warn
	if env != "production" {
		level = gormlogger.Info
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gdb, nil
}

func initRedis(ctx context.Context, cfg internal.RedisConfig) (*redisclient.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := redisclient.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return client, nil
}

// newMetricsRegistry returns nil when metrics are disabled; every metrics constructor accepts nil.
func newMetricsRegistry(cfg internal.MetricsConfig) *prometheus.Registry {
	if !cfg.Enabled {
		return nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func registerer(registry *prometheus.Registry) prometheus.Registerer {
	if registry == nil {
		return nil
	}
	return registry
}

func gatewayConfig(cfg *internal.Config) paymentgateway.Config {
	return paymentgateway.Config{
		BaseURL:     cfg.Payment.ProviderURL,
		APIKey:      cfg.Payment.APIKey,
		Currency:    cfg.Payment.Currency,
		Country:     cfg.Payment.Country,
		CallbackURL: cfg.Server.BaseURL + callbackPath,
		Timeout:     cfg.Payment.Timeout,
	}
}
