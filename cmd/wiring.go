package cmd

import (
	"log/slog"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/booking"
	bookingpg "github.com/frahmantamala/stay-payments/internal/booking/postgres"
	paymentmodel "github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	"github.com/frahmantamala/stay-payments/internal/notification"
	"github.com/frahmantamala/stay-payments/internal/payment"
	paymentpg "github.com/frahmantamala/stay-payments/internal/payment/postgres"
	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/internal/visit"
	visitpg "github.com/frahmantamala/stay-payments/internal/visit/postgres"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// paymentStack is the part of the service graph shared by the API server and the sweeper worker.
// Both resolve intents, so both must settle the owning entity and notify the payer.
type paymentStack struct {
	Ledger   *payment.Ledger
	Gateway  *paymentgateway.Client
	Service  *payment.Service
	Bookings *booking.Service
	Visits   *visitpg.VisitRepository
	Clock    visit.Clock
}

func wirePaymentStack(cfg *internal.Config, gdb *gorm.DB, source realtime.Source, bus *events.EventBus, registry *prometheus.Registry, log *slog.Logger) *paymentStack {
	ledger := payment.NewLedger(paymentpg.NewPaymentRepository(gdb), bus, source, cfg.Payment.Currency, log)
	gateway := paymentgateway.NewClient(gatewayConfig(cfg), log)
	resolver := payment.NewResolver(ledger, source, payment.ResolveOptions{
		MaxDuration:  cfg.Resolver.MaxDuration,
		PollInterval: cfg.Resolver.PollInterval,
	}, metrics.NewResolverMetrics(registerer(registry)), log)
	service := payment.NewService(ledger, gateway, resolver, payment.NewProvisionalCache(0), log)

	bookings := booking.NewService(bookingpg.NewBookingRepository(gdb), cfg.Payment.Currency, log)
	service.RegisterEntity(paymentmodel.PurposeDepositPayment, bookings, bookings)
	service.RegisterEntity(paymentmodel.PurposeRemainderPayment, bookings, bookings)

	clock := visit.SystemClock()
	visits := visitpg.NewVisitRepository(gdb)
	fees := visit.NewFeeSettler(visits, cfg.Visit.Fee, clock, log)
	service.RegisterEntity(paymentmodel.PurposeVisitFee, fees, fees)

	payment.NewEventHandler(service, log).RegisterEventHandlers(bus)
	notification.RegisterEventHandlers(bus, notification.NewEventHandler(newDispatcher(cfg.Notification, log), log))

	return &paymentStack{
		Ledger:   ledger,
		Gateway:  gateway,
		Service:  service,
		Bookings: bookings,
		Visits:   visits,
		Clock:    clock,
	}
}

func newDispatcher(cfg internal.NotificationConfig, log *slog.Logger) notification.Dispatcher {
	if cfg.URL == "" {
		log.Warn("notification url not configured, notifications are only logged")
		return notification.NewLogDispatcher(log)
	}
	return notification.NewHTTPDispatcher(cfg.URL, cfg.Timeout, log)
}
