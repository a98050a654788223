package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/httpx"
	"github.com/md-rashed-zaman/bookslots/libs/schedulerpc"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookslots/services/booking-service/internal/storage"
	"golang.org/x/sync/errgroup"
)

type slotQuery struct {
	Provider  string `json:"provider" validate:"required"`
	Date      string `json:"date" validate:"required,civil_date"`
	ServiceID string `json:"service_id" validate:"required"`
	Timezone  string `json:"timezone" validate:"omitempty,iana_tz"`
}

type slotItem struct {
	Time      string `json:"time"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func parseSlotQuery(r *http.Request) (slotQuery, calendar.Date, error) {
	q := r.URL.Query()
	sq := slotQuery{
		Provider:  strings.TrimSpace(q.Get("provider")),
		Date:      strings.TrimSpace(q.Get("date")),
		ServiceID: strings.TrimSpace(q.Get("service_id")),
		Timezone:  strings.TrimSpace(q.Get("timezone")),
	}
	if err := httpx.Validate(sq); err != nil {
		return slotQuery{}, calendar.Date{}, err
	}
	date, err := calendar.ParseDate(sq.Date)
	if err != nil {
		return slotQuery{}, calendar.Date{}, err
	}
	return sq, date, nil
}

// Slots answers GET /api/v1/public/slots with visitor-local "HH:MM" strings.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sq, date, err := parseSlotQuery(r)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now()
	in, svc, err := h.loadDay(r.Context(), sq.Provider, sq.ServiceID, date)
	if err != nil {
		h.metrics.ObserveSlotQuery(h.writeClassified(w, r, err), 0, time.Since(started))
		return
	}
	labels, err := h.engine.Compute(r.Context(), in, date, svc, sq.Timezone)
	if err != nil {
		h.metrics.ObserveSlotQuery(h.writeClassified(w, r, err), 0, time.Since(started))
		return
	}
	h.metrics.ObserveSlotQuery("ok", len(labels), time.Since(started))
	httpx.WriteJSON(w, http.StatusOK, labels)
}

// SlotsDetailed is Slots with the UTC instants a client needs to book.
func (h *BookingHandler) SlotsDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sq, date, err := parseSlotQuery(r)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now()
	in, svc, err := h.loadDay(r.Context(), sq.Provider, sq.ServiceID, date)
	if err != nil {
		h.metrics.ObserveSlotQuery(h.writeClassified(w, r, err), 0, time.Since(started))
		return
	}
	slots, err := h.engine.Slots(r.Context(), in, date, svc, sq.Timezone)
	if err != nil {
		h.metrics.ObserveSlotQuery(h.writeClassified(w, r, err), 0, time.Since(started))
		return
	}
	h.metrics.ObserveSlotQuery("ok", len(slots), time.Since(started))

	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			Time:      s.Label,
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// bookingWindow covers every instant that can fall on date in any zone
// (UTC-12 through UTC+14) with margin.
func bookingWindow(date calendar.Date) (time.Time, time.Time) {
	return date.At(0, time.UTC).Add(-14 * time.Hour), date.AddDays(1).At(0, time.UTC).Add(14 * time.Hour)
}

func engineInputs(sched *schedulerpc.InputsResponse, bookings []calendar.Booking) availability.Inputs {
	return availability.Inputs{
		ProviderTimezone: sched.Timezone,
		Weekly:           sched.Weekly,
		Override:         sched.Override,
		Capacity:         sched.Capacity,
		Bookings:         bookings,
	}
}

// loadDay fetches schedule inputs and the booking snapshot for one date. When
// the reference already looks like a provider id both reads run concurrently.
func (h *BookingHandler) loadDay(ctx context.Context, providerRef, serviceID string, date calendar.Date) (availability.Inputs, calendar.Service, error) {
	from, to := bookingWindow(date)

	var (
		sched    *schedulerpc.InputsResponse
		bookings []calendar.Booking
	)
	if _, err := uuid.Parse(providerRef); err == nil {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			sched, err = h.scheduling.GetInputs(gctx, providerRef, serviceID, date)
			return err
		})
		g.Go(func() error {
			var err error
			bookings, err = h.repo.ListActiveInWindow(gctx, h.repo.Pool(), providerRef, from, to, "")
			if err != nil {
				return fmt.Errorf("list bookings: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return availability.Inputs{}, calendar.Service{}, err
		}
		if sched.ProviderID == providerRef {
			return engineInputs(sched, bookings), sched.Service, nil
		}
	} else {
		var err error
		sched, err = h.scheduling.GetInputs(ctx, providerRef, serviceID, date)
		if err != nil {
			return availability.Inputs{}, calendar.Service{}, err
		}
	}

	bookings, err := h.repo.ListActiveInWindow(ctx, h.repo.Pool(), sched.ProviderID, from, to, "")
	if err != nil {
		return availability.Inputs{}, calendar.Service{}, fmt.Errorf("list bookings: %w", err)
	}
	return engineInputs(sched, bookings), sched.Service, nil
}

// resolveForStart fetches schedule inputs for the provider-local date of start.
// The provider's zone is only known after the first fetch, so a start near
// midnight UTC may need a second one.
func (h *BookingHandler) resolveForStart(ctx context.Context, providerRef, serviceID string, start time.Time) (*schedulerpc.InputsResponse, calendar.Date, error) {
	date := calendar.DateOf(start.UTC())
	sched, err := h.scheduling.GetInputs(ctx, providerRef, serviceID, date)
	if err != nil {
		return nil, calendar.Date{}, err
	}
	loc, err := calendar.LoadLocation(sched.Timezone)
	if err != nil {
		return nil, calendar.Date{}, err
	}
	local := calendar.DateOf(start.In(loc))
	if local != date {
		sched, err = h.scheduling.GetInputs(ctx, providerRef, serviceID, local)
		if err != nil {
			return nil, calendar.Date{}, err
		}
	}
	return sched, local, nil
}

type slotCheck int

const (
	slotOK slotCheck = iota
	slotTaken
	slotNotOffered
)

// checkSlot re-runs the engine on the snapshot read inside tx. A start that is
// offered on an empty day but not against current bookings is taken; one that
// is never offered is not a slot at all.
func (h *BookingHandler) checkSlot(ctx context.Context, q storage.Reader, sched *schedulerpc.InputsResponse, date calendar.Date, start time.Time, excludeID string) (slotCheck, error) {
	from, to := bookingWindow(date)
	bookings, err := h.repo.ListActiveInWindow(ctx, q, sched.ProviderID, from, to, excludeID)
	if err != nil {
		return 0, fmt.Errorf("list bookings: %w", err)
	}
	ok, err := h.engine.Offers(ctx, engineInputs(sched, bookings), sched.Service, start)
	if err != nil {
		return 0, err
	}
	if ok {
		return slotOK, nil
	}
	ok, err = h.engine.Offers(ctx, engineInputs(sched, nil), sched.Service, start)
	if err != nil {
		return 0, err
	}
	if ok {
		return slotTaken, nil
	}
	return slotNotOffered, nil
}
