package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
)

type weeklyRequest struct {
	ScheduleID string                 `json:"schedule_id"`
	Days       []calendar.WeeklyEntry `json:"days"`
}

type weeklyResponse struct {
	ScheduleID string                 `json:"schedule_id"`
	Changed    bool                   `json:"changed"`
	Days       []calendar.WeeklyEntry `json:"days"`
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	scheduleID, err := h.repo.ScheduleID(ctx, id)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	days := []calendar.WeeklyEntry{}
	if scheduleID != "" {
		days, err = h.repo.WeeklyEntries(ctx, h.repo.Pool(), id, "")
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load schedule")
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, weeklyResponse{ScheduleID: scheduleID, Days: days})
}

// ReplaceSchedule swaps the whole weekly schedule in one transaction. Nothing
// is written when the normalized entries equal the stored ones.
func (h *Handler) ReplaceSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := providerID(w, r)
	if !ok {
		return
	}

	var req weeklyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	for _, e := range req.Days {
		if err := e.Validate(); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	days := calendar.NormalizeWeekly(req.Days)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	scheduleID, err := h.repo.LockSchedule(ctx, tx, id, strings.TrimSpace(req.ScheduleID))
	if err != nil {
		if errors.Is(err, storage.ErrScheduleMatch) {
			httpx.WriteError(w, r, http.StatusNotFound, "schedule not found")
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to lock schedule")
		return
	}
	current, err := h.repo.WeeklyEntries(ctx, tx, id, "")
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load schedule")
		return
	}

	resp := weeklyResponse{ScheduleID: scheduleID, Days: days}
	if calendar.SameWeekly(current, days) {
		if err := tx.Commit(ctx); err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	if err := h.repo.ReplaceWeekly(ctx, tx, scheduleID, days); err != nil {
		h.logger.Error("replace schedule failed", "err", err, "provider_id", id)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to save schedule")
		return
	}
	if err := h.emit(ctx, tx, "schedule", scheduleID, eventWeeklyReplaced, map[string]any{
		"provider_id": id,
		"schedule_id": scheduleID,
		"days":        days,
	}); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to commit")
		return
	}
	resp.Changed = true
	httpx.WriteJSON(w, http.StatusOK, resp)
}
