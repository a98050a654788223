package handlers

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/storage"
)

const msgSlotTaken = "slot no longer available, please choose another"

// classify maps an error from input loading or the engine to an HTTP status,
// a client message and a short metric label.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, scheduling.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, err.Error(), "not_found"
	case errors.Is(err, scheduling.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error(), "invalid"
	case errors.Is(err, availability.ErrInvalidTimezone):
		return http.StatusBadRequest, err.Error(), "invalid"
	case errors.Is(err, availability.ErrInactiveService), errors.Is(err, availability.ErrInvalidDuration):
		return http.StatusUnprocessableEntity, err.Error(), "inactive"
	case errors.Is(err, scheduling.ErrUnavailable):
		return http.StatusServiceUnavailable, "schedule service unavailable", "unavailable"
	default:
		return http.StatusInternalServerError, "failed to compute availability", "error"
	}
}

func (h *BookingHandler) writeClassified(w http.ResponseWriter, r *http.Request, err error) string {
	status, msg, label := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	httpx.WriteError(w, r, status, msg)
	return label
}
