package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
	"github.com/frahmantamala/stay-payments/pkg/logger"
	"github.com/spf13/cobra"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run a fake payment provider for local development",
	Long:  `Serve the provider API the gateway client talks to. Payments settle after a short delay and the result is posted to the service callback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSandbox(cmd.Context())
	},
}

var (
	sandboxAddr        string
	sandboxWorkers     int
	sandboxSuccessRate float64
	sandboxDelay       time.Duration
)

func runSandbox(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	config, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.LoggerWrapper().With("component", "sandbox")

	sandbox := paymentgateway.NewSandbox(paymentgateway.SandboxConfig{
		WebhookURL:    gatewayConfig(config).CallbackURL,
		WebhookSecret: config.Security.WebhookSecret,
		MaxWorkers:    sandboxWorkers,
		SettleDelay:   sandboxDelay,
		SuccessRate:   sandboxSuccessRate,
	}, log)
	sandbox.Start()
	defer sandbox.Shutdown()

	server := &http.Server{
		Addr:              sandboxAddr,
		Handler:           sandbox,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Info("payment sandbox listening", "address", sandboxAddr, "callback", gatewayConfig(config).CallbackURL)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func init() {
	sandboxCmd.Flags().StringVar(&sandboxAddr, "addr", ":9090", "listen address")
	sandboxCmd.Flags().IntVar(&sandboxWorkers, "workers", 4, "settlement workers")
	sandboxCmd.Flags().Float64Var(&sandboxSuccessRate, "success-rate", 0.9, "share of payments that succeed")
	sandboxCmd.Flags().DurationVar(&sandboxDelay, "settle-delay", 0, "fixed settle delay; zero picks a random one")

	rootCmd.AddCommand(sandboxCmd)
}
