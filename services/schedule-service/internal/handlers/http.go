package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/libs/outbox"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
)

const (
	eventWeeklyReplaced  = "schedule.weekly.replaced.v1"
	eventOverrideChanged = "schedule.override.changed.v1"
	eventCapacityUpdated = "schedule.capacity.updated.v1"
)

type Handler struct {
	repo   *storage.Repository
	outbox *outbox.Repository
	logger *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outbox: outboxRepo, logger: logger}
}

// providerID reads X-Provider-Id and writes a 400 when it is missing or malformed.
func providerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if id == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing X-Provider-Id")
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "X-Provider-Id must be a uuid")
		return "", false
	}
	return id, true
}

func (h *Handler) emit(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload any) error {
	evt, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return err
	}
	if err := h.outbox.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("outbox insert failed", "err", err, "event_type", eventType)
		return err
	}
	return nil
}

type profileRequest struct {
	Name      string                `json:"name" validate:"max=200"`
	Slug      string                `json:"slug" validate:"omitempty,max=64,slug"`
	Timezone  string                `json:"timezone" validate:"omitempty,iana_tz"`
	Mode      calendar.CapacityMode `json:"max_appointments_mode" validate:"omitempty,oneof=fully_booked max_per_day"`
	MaxPerDay int                   `json:"max_appointments_per_day" validate:"min=0"`
}

type capacityRequest struct {
	Mode      calendar.CapacityMode `json:"max_appointments_mode" validate:"required,oneof=fully_booked max_per_day"`
	MaxPerDay int                   `json:"max_appointments_per_day" validate:"min=0"`
}

func capacityPayload(providerID string, p calendar.CapacityPolicy) map[string]any {
	payload := map[string]any{
		"provider_id":           providerID,
		"max_appointments_mode": string(p.Mode),
	}
	if limit, ok := p.DailyLimit(); ok {
		payload["max_appointments_per_day"] = limit
	}
	return payload
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	p, err := h.repo.GetOrCreateProfile(r.Context(), id)
	if err != nil {
		h.logger.Error("load profile failed", "err", err, "provider_id", id)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load profile")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// UpdateProfile saves name, slug and timezone; a capacity mode in the same
// body updates the capacity policy too.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	profile := storage.Profile{
		ProviderID: id,
		Slug:       strings.TrimSpace(req.Slug),
		Name:       strings.TrimSpace(req.Name),
		Timezone:   strings.TrimSpace(req.Timezone),
	}
	if profile.Timezone == "" {
		profile.Timezone = "UTC"
	}
	policy := calendar.CapacityPolicy{Mode: req.Mode, MaxPerDay: req.MaxPerDay}
	if err := policy.Validate(); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.UpdateProfile(ctx, tx, profile); err != nil {
		if errors.Is(err, storage.ErrSlugTaken) {
			httpx.WriteError(w, r, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("update profile failed", "err", err, "provider_id", id)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to update profile")
		return
	}
	if req.Mode != "" {
		if err := h.repo.UpdateCapacity(ctx, tx, id, policy); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to update capacity")
			return
		}
		if err := h.emit(ctx, tx, "provider", id, eventCapacityUpdated, capacityPayload(id, policy)); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req capacityRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	policy := calendar.CapacityPolicy{Mode: req.Mode, MaxPerDay: req.MaxPerDay}
	if err := policy.Validate(); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if policy.Mode == calendar.CapacityFullyBooked {
		policy.MaxPerDay = 0
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.UpdateCapacity(ctx, tx, id, policy); err != nil {
		h.logger.Error("update capacity failed", "err", err, "provider_id", id)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to update capacity")
		return
	}
	if err := h.emit(ctx, tx, "provider", id, eventCapacityUpdated, capacityPayload(id, policy)); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, policy)
}

type createServiceRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=1440"`
}

type serviceStatusRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	IsActive  *bool  `json:"is_active" validate:"required"`
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req createServiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	svc, err := h.repo.CreateService(r.Context(), id, strings.TrimSpace(req.Name), req.DurationMinutes)
	if err != nil {
		h.logger.Error("create service failed", "err", err, "provider_id", id)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to create service")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, svc)
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	services, err := h.repo.ListServices(r.Context(), id, 100)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to list services")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, services)
}

func (h *Handler) SetServiceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req serviceStatusRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.repo.SetServiceActive(r.Context(), id, strings.TrimSpace(req.ServiceID), *req.IsActive); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "service not found")
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to update service")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
