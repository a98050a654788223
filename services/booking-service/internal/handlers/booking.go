package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/libs/outbox"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/storage"
)

const (
	eventBooked      = "booking.appointment.booked.v1"
	eventRescheduled = "booking.appointment.rescheduled.v1"
	eventCancelled   = "booking.appointment.cancelled.v1"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	scheduling scheduling.Provider
	engine     *availability.Engine
	metrics    *metrics.Metrics
}

func NewBookingHandler(repo *storage.BookingRepository, outboxRepo *outbox.Repository, logger *slog.Logger, schedulingProvider scheduling.Provider, engine *availability.Engine, m *metrics.Metrics) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		outboxRepo: outboxRepo,
		logger:     logger,
		scheduling: schedulingProvider,
		engine:     engine,
		metrics:    m,
	}
}

type createBookingRequest struct {
	Provider      string `json:"provider" validate:"required"`
	ServiceID     string `json:"service_id" validate:"required"`
	StaffID       string `json:"staff_id"`
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string `json:"customer_phone" validate:"omitempty,max=32"`
	StartTime     string `json:"start_time" validate:"required"`
	Status        string `json:"status" validate:"omitempty,oneof=confirmed pending"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	StartTime     string `json:"start_time" validate:"required"`
}

type cancelBookingRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=500"`
}

type cancelBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id,omitempty"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func providerIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Provider-Id"))
}

func parseStart(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errors.New("start_time must be RFC3339")
	}
	return t.UTC(), nil
}

func newAppointmentResponse(id string, b calendar.Booking) appointmentResponse {
	return appointmentResponse{
		AppointmentID: id,
		StartTime:     b.Start.UTC().Format(time.RFC3339),
		EndTime:       b.End.UTC().Format(time.RFC3339),
		Status:        string(b.Status),
	}
}

// Create books a slot. Inside one transaction it takes the provider/day
// advisory lock, re-reads bookings, re-runs the engine, inserts and writes the
// outbox event. The exclusion constraint on appointments backs this up.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createBookingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseStart(req.StartTime)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status, err := calendar.ParseBookingStatus(req.Status)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	sched, date, err := h.resolveForStart(ctx, strings.TrimSpace(req.Provider), strings.TrimSpace(req.ServiceID), start)
	if err != nil {
		h.metrics.ObserveCommit("create", h.writeClassified(w, r, err))
		return
	}

	appt := &model.Appointment{
		Booking: calendar.Booking{
			ProviderID: sched.ProviderID,
			ServiceID:  sched.Service.ID,
			StaffID:    strings.TrimSpace(req.StaffID),
			CustomerID: strings.TrimSpace(req.CustomerID),
			Start:      start,
			End:        start.Add(sched.Service.Duration()),
			Status:     status,
		},
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, appt.ProviderID, idempotencyKey)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to lock idempotency key")
			return
		}
		if exists && rec.StatusCode > 0 {
			h.metrics.ObserveCommit("create", "replayed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	if err := h.repo.LockDay(ctx, tx, appt.ProviderID, date); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to lock schedule")
		return
	}

	check, err := h.checkSlot(ctx, tx, sched, date, start, "")
	if err != nil {
		h.metrics.ObserveCommit("create", h.writeClassified(w, r, err))
		return
	}
	if check != slotOK {
		code, msg, outcome := rejectStatus(check)
		h.metrics.ObserveCommit("create", outcome)
		if idempotencyKey != "" && h.finalizeIdempotencyError(ctx, tx, appt.ProviderID, idempotencyKey, code, msg) {
			_ = tx.Commit(ctx)
		}
		writeReject(w, r, check, code, msg)
		return
	}

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			h.metrics.ObserveCommit("create", "conflict")
			httpx.WriteRetryableError(w, r, http.StatusConflict, msgSlotTaken)
			return
		}
		h.logger.Error("create appointment failed", "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to create appointment")
		return
	}
	appt.ID = id

	if err := h.writeEvent(ctx, tx, eventBooked, appt, nil); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	respBody, err := json.Marshal(newAppointmentResponse(id, appt.Booking))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to build response")
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, appt.ProviderID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to finalize idempotency key")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			h.metrics.ObserveCommit("create", "conflict")
			httpx.WriteRetryableError(w, r, http.StatusConflict, msgSlotTaken)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	h.metrics.ObserveCommit("create", "created")
	h.logger.Info("appointment booked", "appointment_id", id, "provider_id", appt.ProviderID, "start", appt.Start.Format(time.RFC3339))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Reschedule moves an active appointment after the same locked re-check as
// Create; the appointment itself is left out of the snapshot.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	var req rescheduleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseStart(req.StartTime)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	current, err := h.repo.GetAppointment(ctx, providerID, req.AppointmentID)
	if err != nil {
		h.metrics.ObserveCommit("reschedule", h.writeClassified(w, r, err))
		return
	}
	if !current.Active() {
		httpx.WriteError(w, r, http.StatusConflict, "appointment is cancelled")
		return
	}

	sched, date, err := h.resolveForStart(ctx, providerID, current.ServiceID, start)
	if err != nil {
		h.metrics.ObserveCommit("reschedule", h.writeClassified(w, r, err))
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.LockDay(ctx, tx, sched.ProviderID, date); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to lock schedule")
		return
	}
	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, providerID, req.AppointmentID)
	if err != nil {
		h.metrics.ObserveCommit("reschedule", h.writeClassified(w, r, err))
		return
	}
	if !appt.Active() {
		httpx.WriteError(w, r, http.StatusConflict, "appointment is cancelled")
		return
	}

	check, err := h.checkSlot(ctx, tx, sched, date, start, appt.ID)
	if err != nil {
		h.metrics.ObserveCommit("reschedule", h.writeClassified(w, r, err))
		return
	}
	if check != slotOK {
		code, msg, outcome := rejectStatus(check)
		h.metrics.ObserveCommit("reschedule", outcome)
		writeReject(w, r, check, code, msg)
		return
	}

	previous := appt.Booking
	appt.Start = start
	appt.End = start.Add(sched.Service.Duration())
	if err := h.repo.Reschedule(ctx, tx, providerID, appt.ID, appt.Start, appt.End); err != nil {
		if storage.IsConflict(err) {
			h.metrics.ObserveCommit("reschedule", "conflict")
			httpx.WriteRetryableError(w, r, http.StatusConflict, msgSlotTaken)
			return
		}
		h.metrics.ObserveCommit("reschedule", h.writeClassified(w, r, err))
		return
	}
	if err := h.writeEvent(ctx, tx, eventRescheduled, &appt, &previous); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	h.metrics.ObserveCommit("reschedule", "rescheduled")
	httpx.WriteJSON(w, http.StatusOK, newAppointmentResponse(appt.ID, appt.Booking))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	var req cancelBookingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, providerID, req.AppointmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "appointment not found")
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	if !appt.Active() {
		cancelledAt := appt.CreatedAt
		if appt.CancelledAt != nil {
			cancelledAt = *appt.CancelledAt
		}
		writeCancelResponse(w, appt.ID, cancelledAt.UTC())
		return
	}

	cancelledAt, err := h.repo.CancelAppointment(ctx, tx, providerID, appt.ID, req.Reason)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}
	appt.Status = calendar.StatusCancelled
	appt.CancelReason = req.Reason
	appt.CancelledAt = &cancelledAt

	if err := h.writeEvent(ctx, tx, eventCancelled, &appt, nil); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	writeCancelResponse(w, appt.ID, cancelledAt.UTC())
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var status calendar.BookingStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, err := calendar.ParseBookingStatus(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		status = st
	}

	appts, err := h.repo.ListByProvider(r.Context(), providerID, status, limit)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			ServiceID:     appt.ServiceID,
			StaffID:       appt.StaffID,
			CustomerID:    appt.CustomerID,
			CustomerName:  appt.CustomerName,
			StartTime:     appt.Start.UTC().Format(time.RFC3339),
			EndTime:       appt.End.UTC().Format(time.RFC3339),
			Status:        string(appt.Status),
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func rejectStatus(check slotCheck) (int, string, string) {
	if check == slotTaken {
		return http.StatusConflict, msgSlotTaken, "conflict"
	}
	return http.StatusUnprocessableEntity, "requested time is not an available slot", "rejected"
}

func writeReject(w http.ResponseWriter, r *http.Request, check slotCheck, code int, msg string) {
	if check == slotTaken {
		httpx.WriteRetryableError(w, r, code, msg)
		return
	}
	httpx.WriteError(w, r, code, msg)
}

func (h *BookingHandler) writeEvent(ctx context.Context, tx pgx.Tx, eventType string, appt *model.Appointment, previous *calendar.Booking) error {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"service_id":     appt.ServiceID,
		"staff_id":       appt.StaffID,
		"customer_id":    appt.CustomerID,
		"start_time":     appt.Start.UTC().Format(time.RFC3339),
		"end_time":       appt.End.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	}
	if previous != nil {
		payload["previous_start_time"] = previous.Start.UTC().Format(time.RFC3339)
		payload["previous_end_time"] = previous.End.UTC().Format(time.RFC3339)
	}
	if appt.CancelledAt != nil {
		payload["cancelled_at"] = appt.CancelledAt.UTC().Format(time.RFC3339)
		payload["reason"] = appt.CancelReason
	}
	evt, err := outbox.NewEvent("appointment", appt.ID, eventType, payload)
	if err != nil {
		return err
	}
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("outbox insert failed", "err", err, "event_type", eventType)
		return err
	}
	return nil
}

func writeCancelResponse(w http.ResponseWriter, appointmentID string, cancelledAt time.Time) {
	httpx.WriteJSON(w, http.StatusOK, cancelBookingResponse{
		AppointmentID: appointmentID,
		Status:        string(calendar.StatusCancelled),
		CancelledAt:   cancelledAt.Format(time.RFC3339),
	})
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, providerID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]any{"error": msg, "retryable": statusCode == http.StatusConflict})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, providerID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}
