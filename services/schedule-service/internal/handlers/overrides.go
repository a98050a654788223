package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
)

const (
	actionUpsert = "upsert"
	actionDelete = "delete"
)

type overrideRequest struct {
	ScheduleID    string   `json:"schedule_id"`
	Action        string   `json:"action" validate:"omitempty,oneof=upsert delete"`
	ID            string   `json:"id"`
	Dates         []string `json:"dates" validate:"dive,civil_date"`
	IsUnavailable bool     `json:"is_unavailable"`
	StartTime     string   `json:"start_time" validate:"omitempty,hhmm"`
	EndTime       string   `json:"end_time" validate:"omitempty,hhmm"`
}

type overrideResult struct {
	Date  string `json:"date"`
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type overrideListQuery struct {
	From string `json:"from" validate:"omitempty,civil_date"`
	To   string `json:"to" validate:"omitempty,civil_date"`
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	q := overrideListQuery{
		From: strings.TrimSpace(r.URL.Query().Get("from")),
		To:   strings.TrimSpace(r.URL.Query().Get("to")),
	}
	if err := httpx.Validate(q); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var from, to calendar.Date
	if q.From != "" {
		from = calendar.MustDate(q.From)
	}
	if q.To != "" {
		to = calendar.MustDate(q.To)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		httpx.WriteError(w, r, http.StatusBadRequest, "to must not be before from")
		return
	}

	overrides, err := h.repo.ListOverrides(r.Context(), id, from, to)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, overrides)
}

// MutateOverrides applies one upsert or delete. A bulk upsert over dates
// commits each date on its own and reports per-date results.
func (h *Handler) MutateOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req overrideRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	if req.Action == "" {
		req.Action = actionUpsert
	}

	if req.Action == actionDelete {
		h.deleteOverride(w, r, id, req)
		return
	}

	if len(req.Dates) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "dates is required")
		return
	}
	if req.ID != "" && len(req.Dates) != 1 {
		httpx.WriteError(w, r, http.StatusBadRequest, "editing an override by id targets exactly one date")
		return
	}
	template, err := overrideTemplate(req)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]overrideResult, 0, len(req.Dates))
	for _, raw := range req.Dates {
		o := template
		o.Date = calendar.MustDate(raw)
		o.ID = req.ID
		res := overrideResult{Date: o.Date.String()}

		savedID, err := h.saveOverride(r.Context(), id, req.ScheduleID, o)
		switch {
		case err == nil:
			res.ID, res.OK = savedID, true
		case errors.Is(err, storage.ErrScheduleMatch):
			httpx.WriteError(w, r, http.StatusNotFound, "schedule not found")
			return
		case errors.Is(err, storage.ErrNotFound):
			httpx.WriteError(w, r, http.StatusNotFound, "override not found")
			return
		case errors.Is(err, storage.ErrDateConflict):
			httpx.WriteError(w, r, http.StatusConflict, err.Error())
			return
		default:
			h.logger.Error("save override failed", "err", err, "provider_id", id, "date", res.Date)
			res.Error = "failed to save override"
		}
		results = append(results, res)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

func overrideTemplate(req overrideRequest) (calendar.DateOverride, error) {
	o := calendar.DateOverride{IsUnavailable: req.IsUnavailable}
	if !req.IsUnavailable {
		if req.StartTime == "" || req.EndTime == "" {
			return o, errors.New("start_time and end_time are required unless is_unavailable")
		}
		start, end := calendar.MustClock(req.StartTime), calendar.MustClock(req.EndTime)
		o.Start, o.End = &start, &end
	}
	// Date is filled per item; validate hours against a placeholder.
	sample := o
	sample.Date = calendar.Date{Year: 2000, Month: 1, Day: 1}
	return o, sample.Validate()
}

func (h *Handler) saveOverride(ctx context.Context, providerID, scheduleID string, o calendar.DateOverride) (string, error) {
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockedID, err := h.repo.LockSchedule(ctx, tx, providerID, scheduleID)
	if err != nil {
		return "", err
	}
	id := o.ID
	if id != "" {
		if err := h.repo.UpdateOverride(ctx, tx, providerID, o); err != nil {
			return "", err
		}
	} else {
		id, err = h.repo.UpsertOverride(ctx, tx, lockedID, providerID, o)
		if err != nil {
			return "", err
		}
	}
	if err := h.emit(ctx, tx, "date_override", id, eventOverrideChanged, overridePayload(providerID, actionUpsert, id, o)); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Handler) deleteOverride(w http.ResponseWriter, r *http.Request, providerID string, req overrideRequest) {
	if req.ID == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "id is required for delete")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	removed, err := h.repo.DeleteOverride(ctx, tx, providerID, req.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "override not found")
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to delete override")
		return
	}
	if err := h.emit(ctx, tx, "date_override", removed.ID, eventOverrideChanged, overridePayload(providerID, actionDelete, removed.ID, removed)); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": removed.ID, "date": removed.Date.String()})
}

func overridePayload(providerID, action, id string, o calendar.DateOverride) map[string]any {
	payload := map[string]any{
		"provider_id":    providerID,
		"override_id":    id,
		"action":         action,
		"date":           o.Date.String(),
		"is_unavailable": o.IsUnavailable,
	}
	if o.Start != nil && o.End != nil {
		payload["start_time"] = o.Start.String()
		payload["end_time"] = o.End.String()
	}
	return payload
}
