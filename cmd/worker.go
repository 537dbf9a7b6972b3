package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/events"
	"github.com/frahmantamala/stay-payments/internal/payment"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/internal/worker"
	"github.com/frahmantamala/stay-payments/pkg/logger"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run next to the API servers.`,
}

var sweeperWorkerCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Reconcile stale pending payment intents",
	Long:  `Periodically ask the provider about intents stuck in pending and resolve them. Only one sweeper runs at a time across replicas.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweeper(cmd.Context())
	},
}

var (
	sweepOnce   bool
	metricsAddr string
)

func runSweeper(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	config, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.LoggerWrapper().With("component", "sweeper")

	db, err := initDB(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	gdb, err := initGorm(db, config.Env)
	if err != nil {
		return err
	}
	redis, err := initRedis(parent, config.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()

	registry := newMetricsRegistry(config.Observability.Metrics)
	bus := events.NewEventBus(log)
	source := realtime.NewRedisSource(redis, log)
	defer source.Close()
	stack := wirePaymentStack(config, gdb, source, bus, registry, log)
	jobMetrics := metrics.NewJobMetrics(registerer(registry))

	sweeper := payment.NewSweeper(stack.Ledger, stack.Gateway, payment.SweeperConfig{
		StaleAfter: config.Sweeper.StaleAfter,
		BatchSize:  config.Sweeper.BatchSize,
	}, jobMetrics, log)

	lock, err := worker.NewRedisLock(redis, redis.LockKey(payment.SweeperJobName), config.Sweeper.LockTTL)
	if err != nil {
		return err
	}
	runner, err := worker.NewRunner(worker.RunnerParams{
		Logger:   log,
		Registry: worker.NewRegistry(sweeper),
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: config.Sweeper.Interval,
	})
	if err != nil {
		return err
	}

	if sweepOnce {
		err := runner.RunOnce(parent)
		bus.Wait()
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if registry != nil && metricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	log.Info("sweeper started",
		"interval", config.Sweeper.Interval,
		"stale_after", config.Sweeper.StaleAfter,
		"batch_size", config.Sweeper.BatchSize)

	runErr := runner.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	bus.Wait()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runErr = multierr.Append(runErr, metricsServer.Shutdown(shutdownCtx))
	}
	log.Info("sweeper stopped")
	return runErr
}

func init() {
	sweeperWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single sweep and exit")
	sweeperWorkerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "address serving /metrics; empty disables it")

	workerCmd.AddCommand(sweeperWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}

