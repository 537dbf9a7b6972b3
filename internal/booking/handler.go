package booking

import (
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	BookingService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(bookingService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		BookingService: bookingService,
		Logger:         logger,
	}
}

// CreateBooking handles POST /api/v1/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	guestID := errors.UserIDFromContext(r.Context())
	if guestID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req CreateBookingRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	created, err := h.BookingService.CreateBooking(r.Context(), CreateBookingInput{
		ListingID:    req.ListingID,
		GuestID:      guestID,
		Nights:       req.Nights,
		NightlyPrice: req.NightlyPrice,
		TotalPrice:   req.TotalPrice,
		Currency:     req.Currency,
	})
	if err != nil {
		h.Logger.Error("CreateBooking: service error", "error", err, "guest_id", guestID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, ToBookingResponse(created))
}

// GetBooking handles GET /api/v1/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	found, err := h.BookingService.Get(r.Context(), h.URLParam(r, "id"), errors.UserIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToBookingResponse(found))
}

// GetBreakdown handles GET /api/v1/bookings/{id}/breakdown
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	b, breakdown, err := h.BookingService.Breakdown(r.Context(), h.URLParam(r, "id"), errors.UserIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, BreakdownResponse{
		BookingID: b.ID,
		Currency:  b.Currency,
		Breakdown: breakdown,
	})
}
