package visit

import (
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	VisitService ServiceAPI
	GracePeriod  time.Duration
	Logger       *slog.Logger
}

func NewHandler(visitService ServiceAPI, gracePeriod time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:  transport.BaseHandler{Logger: logger},
		VisitService: visitService,
		GracePeriod:  gracePeriod,
		Logger:       logger,
	}
}

// RequestVisit handles POST /api/v1/visits
func (h *Handler) RequestVisit(w http.ResponseWriter, r *http.Request) {
	guestID := errors.UserIDFromContext(r.Context())
	if guestID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req RequestVisitRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	created, err := h.VisitService.RequestVisit(r.Context(), RequestVisitInput{
		ListingID:     req.ListingID,
		GuestID:       guestID,
		HostID:        req.HostID,
		RequestedDate: req.RequestedDate,
		RequestedTime: req.RequestedTime,
	})
	if err != nil {
		h.Logger.Error("RequestVisit: service error", "error", err, "guest_id", guestID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToVisitResponse(created, h.GracePeriod))
}

// GetVisit handles GET /api/v1/visits/{id}
func (h *Handler) GetVisit(w http.ResponseWriter, r *http.Request) {
	found, err := h.VisitService.Get(r.Context(), h.URLParam(r, "id"), errors.UserIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToVisitResponse(found, h.GracePeriod))
}

// ConfirmVisit handles POST /api/v1/visits/{id}/confirm
func (h *Handler) ConfirmVisit(w http.ResponseWriter, r *http.Request) {
	visitID := h.URLParam(r, "id")
	confirmed, err := h.VisitService.ConfirmNow(r.Context(), visitID, errors.UserIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToVisitResponse(confirmed, h.GracePeriod))
}

// CancelVisit handles POST /api/v1/visits/{id}/cancel
func (h *Handler) CancelVisit(w http.ResponseWriter, r *http.Request) {
	visitID := h.URLParam(r, "id")

	var req CancelVisitRequest
	if r.ContentLength != 0 {
		if appErr := h.DecodeJSON(r, &req); appErr != nil {
			h.HandleError(w, appErr)
			return
		}
	}

	cancelled, err := h.VisitService.CancelVisit(r.Context(), CancelVisitInput{
		VisitID: visitID,
		ActorID: errors.UserIDFromContext(r.Context()),
		Reason:  req.Reason,
	})
	if err != nil {
		h.Logger.Error("CancelVisit: service error", "error", err, "visit_id", visitID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToVisitResponse(cancelled, h.GracePeriod))
}
