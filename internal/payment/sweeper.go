package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
)

const SweeperJobName = "payment-reconciliation"

const (
	DefaultStaleAfter = 10 * time.Minute
	DefaultBatchSize  = 100
)

type SweeperConfig struct {
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper reconciles intents that stayed pending because a callback was lost or nobody was waiting.
// Intents never initiated at the provider are failed once stale.
type Sweeper struct {
	ledger  *Ledger
	gateway Gateway
	cfg     SweeperConfig
	metrics *metrics.JobMetrics
	logger  *slog.Logger
}

func NewSweeper(ledger *Ledger, gateway Gateway, cfg SweeperConfig, m *metrics.JobMetrics, logger *slog.Logger) *Sweeper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Sweeper{
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

func (s *Sweeper) Name() string {
	return SweeperJobName
}

func (s *Sweeper) Run(ctx context.Context) error {
	intents, err := s.ledger.ListStalePending(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		return nil
	}

	var errs error
	resolved := 0
	for _, intent := range intents {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		changed, err := s.reconcile(ctx, intent)
		if err != nil {
			s.logger.Warn("failed to reconcile payment intent", "intent_id", intent.ID, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		if changed {
			resolved++
		}
	}

	s.metrics.AddResolved(SweeperJobName, resolved)
	s.logger.Info("payment reconciliation finished",
		"checked", len(intents),
		"resolved", resolved,
		"failed", len(multierr.Errors(errs)))
	return errs
}

func (s *Sweeper) reconcile(ctx context.Context, intent *payment.Intent) (bool, error) {
	if intent.ProviderReference == nil || *intent.ProviderReference == "" {
		reason := "payment was not initiated in time"
		payload, _ := json.Marshal(map[string]string{"source": "reconciliation", "reason": reason})
		_, changed, err := s.ledger.Resolve(ctx, intent.ID, payment.StatusFailed, payload, &reason)
		return changed, err
	}

	status, err := s.gateway.GetStatus(ctx, *intent.ProviderReference)
	if err != nil {
		return false, err
	}
	mapped := paymentgateway.MapExternalStatus(status.Status)
	if !mapped.Terminal() {
		return false, nil
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return false, fmt.Errorf("marshal provider status: %w", err)
	}
	var failureReason *string
	if mapped == payment.StatusFailed {
		reason := status.FailureReason
		if reason == "" {
			reason = "payment declined by provider"
		}
		failureReason = &reason
	}
	_, changed, err := s.ledger.Resolve(ctx, intent.ID, mapped, payload, failureReason)
	return changed, err
}
