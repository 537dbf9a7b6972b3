package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/auth"
	"github.com/frahmantamala/stay-payments/internal/booking"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	"github.com/frahmantamala/stay-payments/internal/payment"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/internal/transport"
	"github.com/frahmantamala/stay-payments/internal/transport/rest"
	"github.com/frahmantamala/stay-payments/internal/visit"
	"github.com/frahmantamala/stay-payments/pkg/logger"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
	redisclient "github.com/frahmantamala/stay-payments/pkg/redis"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config    *internal.Config
	DB        *sqlx.DB
	Redis     *redisclient.Client
	Router    *chi.Mux
	Bus       *events.EventBus
	Scheduler *visit.Scheduler
	Realtime  *realtime.RedisSource
	Logger    *slog.Logger
}

func startHTTPServer() {
	ctx := context.Background()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	// Pending visits from before a restart get their timers back here.
	if err := deps.Scheduler.Start(ctx); err != nil {
		deps.Logger.Error("visit scheduler failed to start", "error", err)
		_ = deps.close()
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			_ = deps.close()
			os.Exit(1)
		}
	}

	if err := deps.close(); err != nil {
		deps.Logger.Error("shutdown error", "error", err)
	}
	deps.Logger.Info("Server stopped")
}

// close stops timers before the stores they write to.
func (d *Dependencies) close() error {
	var err error
	if d.Scheduler != nil {
		err = multierr.Append(err, d.Scheduler.Stop())
	}
	if d.Bus != nil {
		d.Bus.Wait()
	}
	if d.Realtime != nil {
		err = multierr.Append(err, d.Realtime.Close())
	}
	if d.Redis != nil {
		err = multierr.Append(err, d.Redis.Close())
	}
	if d.DB != nil {
		err = multierr.Append(err, d.DB.Close())
	}
	return err
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gdb, err := initGorm(db, config.Env)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	redis, err := initRedis(ctx, config.Redis)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := newMetricsRegistry(config.Observability.Metrics)
	bus := events.NewEventBus(log)
	source := realtime.NewRedisSource(redis, log)

	stack := wirePaymentStack(config, gdb, source, bus, registry, log)

	scheduler, err := visit.NewScheduler(visit.SchedulerParams{
		Repository:  stack.Visits,
		Source:      source,
		Bus:         bus,
		Clock:       stack.Clock,
		GracePeriod: config.Visit.GracePeriod,
		RetryDelay:  config.Visit.RetryDelay,
		Metrics:     metrics.NewSchedulerMetrics(registerer(registry)),
		Logger:      log,
	})
	if err != nil {
		_ = redis.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to build visit scheduler: %w", err)
	}
	visitService := visit.NewService(stack.Visits, scheduler, source, bus, stack.Clock, log)

	routes := rest.Routes{
		Health: rest.NewHealthHandler(db.DB, map[string]rest.Pinger{
			"redis": rest.PingFunc(redis.Ping),
		}),
		Verifier:       auth.NewJWTTokenGenerator(config.Security.JWTSecret),
		PaymentHandler: payment.NewHandler(stack.Service, config.Resolver.MaxDuration, log),
		WebhookHandler: payment.NewWebhookHandler(transport.NewBaseHandler(log), stack.Service, config.Security.WebhookSecret, log),
		BookingHandler: booking.NewHandler(stack.Bookings, log),
		VisitHandler:   visit.NewHandler(visitService, config.Visit.GracePeriod, log),
		MetricsPath:    config.Observability.Metrics.Path,
		Logger:         log,
	}
	if registry != nil {
		routes.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, routes)

	return &Dependencies{
		Config:    config,
		DB:        db,
		Redis:     redis,
		Router:    router,
		Bus:       bus,
		Scheduler: scheduler,
		Realtime:  source,
		Logger:    log,
	}, nil
}
