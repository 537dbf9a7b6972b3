package visit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/common/validation"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	"github.com/frahmantamala/stay-payments/internal/realtime"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type RequestVisitInput struct {
	ListingID     string
	GuestID       string
	HostID        string
	RequestedDate string
	RequestedTime string
}

func (in RequestVisitInput) Validate() error {
	v := validation.NewValidator()
	v.Field("listing_id", in.ListingID).Required()
	v.Field("guest_id", in.GuestID).Required()
	v.Field("host_id", in.HostID).Required()
	v.Field("requested_date", in.RequestedDate).Required().Custom(layout("requested_date", dateLayout))
	v.Field("requested_time", in.RequestedTime).Required().Custom(layout("requested_time", timeLayout))
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	if in.GuestID == in.HostID {
		return apperrors.NewValidationFieldError("host_id", "a host cannot request a visit of their own listing", apperrors.ErrCodeValidationFailed)
	}
	return nil
}

func layout(field, format string) validation.ValidatorFunc {
	return func(value interface{}) *apperrors.AppError {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if _, err := time.Parse(format, s); err != nil {
			return apperrors.NewValidationFieldError(field, fmt.Sprintf("%s must use the format %s", field, format), apperrors.ErrCodeInvalidSchedule)
		}
		return nil
	}
}

// MaxCancelReasonLength bounds the free text stored with a cancellation.
const MaxCancelReasonLength = 500

type CancelVisitInput struct {
	VisitID string
	ActorID string
	Reason  string
}

func (in CancelVisitInput) Validate() error {
	v := validation.NewValidator()
	v.Field("reason", strings.TrimSpace(in.Reason)).MaxLength(MaxCancelReasonLength)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ServiceAPI interface {
	RequestVisit(ctx context.Context, in RequestVisitInput) (*visit.Request, error)
	ConfirmNow(ctx context.Context, visitID, actorID string) (*visit.Request, error)
	CancelVisit(ctx context.Context, in CancelVisitInput) (*visit.Request, error)
	Get(ctx context.Context, visitID, actorID string) (*visit.Request, error)
}

type Service struct {
	repo      Repository
	scheduler *Scheduler
	source    realtime.Source
	bus       *events.EventBus
	clock     Clock
	logger    *slog.Logger
}

var _ ServiceAPI = (*Service)(nil)

func NewService(repo Repository, scheduler *Scheduler, source realtime.Source, bus *events.EventBus, clock Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		source:    source,
		bus:       bus,
		clock:     clock,
		logger:    logger,
	}
}

// RequestVisit stores a pending visit and arms its auto-confirmation.
func (s *Service) RequestVisit(ctx context.Context, in RequestVisitInput) (*visit.Request, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	date, _ := time.Parse(dateLayout, in.RequestedDate)
	now := s.clock.Now()
	req := &visit.Request{
		ID:            uuid.NewString(),
		ListingID:     in.ListingID,
		GuestID:       in.GuestID,
		HostID:        in.HostID,
		RequestedDate: date,
		RequestedTime: in.RequestedTime,
		Status:        visit.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create visit request: %w", err)
	}
	s.logger.Info("visit requested", "visit_id", req.ID, "listing_id", req.ListingID, "guest_id", req.GuestID)

	// the store is authoritative; a failed arm is recovered by the next Start
	if err := s.scheduler.Schedule(ctx, req); err != nil {
		s.logger.Error("failed to schedule visit confirmation", "visit_id", req.ID, "error", err)
	}
	return s.load(ctx, req.ID)
}

// ConfirmNow lets the host confirm before the grace period ends.
func (s *Service) ConfirmNow(ctx context.Context, visitID, actorID string) (*visit.Request, error) {
	req, err := s.load(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if req.HostID != actorID {
		return nil, apperrors.NewForbiddenError("only the host can confirm this visit", apperrors.ErrCodeVisitForbidden)
	}
	if err := notPending(req); err != nil {
		return nil, err
	}

	updated, changed, err := s.scheduler.ConfirmNow(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, notPending(updated)
	}
	return updated, nil
}

// CancelVisit wins over any confirmation still in flight. Cancelling twice returns the cancelled visit.
func (s *Service) CancelVisit(ctx context.Context, in CancelVisitInput) (*visit.Request, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	req, err := s.load(ctx, in.VisitID)
	if err != nil {
		return nil, err
	}
	if !participant(req, in.ActorID) {
		return nil, apperrors.NewForbiddenError("only the guest or host can cancel this visit", apperrors.ErrCodeVisitForbidden)
	}
	if req.Status == visit.StatusCancelled {
		s.scheduler.Cancel(req.ID)
		return req, nil
	}

	var reason *string
	if r := strings.TrimSpace(in.Reason); r != "" {
		reason = &r
	}
	changed, err := s.repo.Cancel(ctx, req.ID, reason, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("cancel visit: %w", err)
	}
	s.scheduler.Cancel(req.ID)

	updated, err := s.load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	s.logger.Info("visit cancelled", "visit_id", updated.ID, "by", in.ActorID)
	s.announce(ctx, updated)
	if s.bus != nil {
		cancelReason := ""
		if updated.CancelReason != nil {
			cancelReason = *updated.CancelReason
		}
		_ = s.bus.Publish(ctx, events.NewVisitCancelledEvent(updated.ID, updated.ListingID, updated.GuestID, updated.HostID, cancelReason))
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, visitID, actorID string) (*visit.Request, error) {
	req, err := s.load(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if !participant(req, actorID) {
		return nil, apperrors.NewForbiddenError("visit belongs to another user", apperrors.ErrCodeVisitForbidden)
	}
	return req, nil
}

func (s *Service) load(ctx context.Context, visitID string) (*visit.Request, error) {
	req, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewNotFoundError("visit request not found", apperrors.ErrCodeVisitNotFound)
		}
		return nil, fmt.Errorf("get visit request: %w", err)
	}
	return req, nil
}

func (s *Service) announce(ctx context.Context, req *visit.Request) {
	if s.source == nil {
		return
	}
	event, err := realtime.NewRowUpdated(realtime.TopicVisitRequests, req.ID, req)
	if err == nil {
		err = s.source.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Warn("failed to publish realtime visit update", "visit_id", req.ID, "error", err)
	}
}

func participant(req *visit.Request, actorID string) bool {
	return actorID != "" && (req.GuestID == actorID || req.HostID == actorID)
}

func notPending(req *visit.Request) error {
	switch req.Status {
	case visit.StatusPending:
		return nil
	case visit.StatusCancelled:
		return apperrors.NewConflictError("visit was cancelled", apperrors.ErrCodeVisitCancelled)
	}
	return apperrors.NewConflictError("visit is already "+string(req.Status), apperrors.ErrCodeVisitNotPending)
}
