package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInactiveService = errors.New("service is not active")
	ErrInvalidDuration = errors.New("service duration must be positive")
	ErrInvalidTimezone = calendar.ErrInvalidTimezone
)

// Inputs is everything known about one provider for the requested date.
// Bookings may include entries outside the date and cancelled ones; the
// engine filters them.
type Inputs struct {
	ProviderTimezone string
	Weekly           []calendar.WeeklyEntry
	Override         *calendar.DateOverride
	Capacity         calendar.CapacityPolicy
	Bookings         []calendar.Booking
}

// Slot is one offerable start with its end and visitor-local label.
type Slot struct {
	Start time.Time
	End   time.Time
	Label string
}

type Option func(*Engine)

// WithClock overrides the "now" used to drop past candidates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStep fixes the candidate grid. Zero or negative keeps the default of one
// service duration per step.
func WithStep(step time.Duration) Option {
	return func(e *Engine) {
		if step > 0 {
			e.step = step
		}
	}
}

// Engine computes bookable start times. It holds no per-provider state and
// never caches between calls.
type Engine struct {
	now    func() time.Time
	step   time.Duration
	tracer trace.Tracer
}

func New(opts ...Option) *Engine {
	e := &Engine{
		now:    time.Now,
		tracer: otel.Tracer("booking-service/availability"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkingRange is a provider-local [Start, End) range of wall-clock time.
type WorkingRange struct {
	Start calendar.Clock
	End   calendar.Clock
}

// WorkingRanges resolves the hours that apply on date. An unavailable override
// closes the day, an explicit override replaces the weekly hours, otherwise every
// weekly entry for the weekday applies.
func WorkingRanges(weekly []calendar.WeeklyEntry, override *calendar.DateOverride, date calendar.Date) []WorkingRange {
	if override != nil && override.Date == date {
		if override.IsUnavailable || override.Start == nil || override.End == nil {
			return nil
		}
		if *override.Start >= *override.End {
			return nil
		}
		return []WorkingRange{{Start: *override.Start, End: *override.End}}
	}

	var out []WorkingRange
	for _, e := range calendar.EntriesFor(weekly, date.DayOfWeek()) {
		if e.Start < e.End {
			out = append(out, WorkingRange{Start: e.Start, End: e.End})
		}
	}
	return out
}

// Candidates returns the sorted, de-duplicated start instants offerable on the
// provider-local date for svc.
func (e *Engine) Candidates(ctx context.Context, in Inputs, date calendar.Date, svc calendar.Service) ([]time.Time, error) {
	_, span := e.tracer.Start(ctx, "availability.compute", trace.WithAttributes(
		attribute.String("date", date.String()),
		attribute.String("service_id", svc.ID),
	))
	defer span.End()

	starts, err := e.candidates(in, date, svc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("slots", len(starts)))
	return starts, nil
}

func (e *Engine) candidates(in Inputs, date calendar.Date, svc calendar.Service) ([]time.Time, error) {
	if !svc.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveService, svc.ID)
	}
	duration := svc.Duration()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, svc.ID)
	}
	loc, err := calendar.LoadLocation(in.ProviderTimezone)
	if err != nil {
		return nil, err
	}

	ranges := WorkingRanges(in.Weekly, in.Override, date)
	if len(ranges) == 0 {
		return nil, nil
	}

	active := ActiveBookings(in.Bookings)
	if limit, ok := in.Capacity.DailyLimit(); ok && CountOnDate(active, date, loc) >= limit {
		return nil, nil
	}

	step := e.step
	if step <= 0 {
		step = duration
	}
	s := stepper{duration: duration, step: step, busy: active, now: e.now()}

	var starts []time.Time
	for _, w := range resolveWindows(ranges, date, loc) {
		starts = append(starts, s.starts(w)...)
	}
	return sortUnique(starts), nil
}

// Slots is Candidates projected to the visitor zone. An empty visitor zone
// means the provider's zone. Every candidate is kept; on a DST fall-back day two
// slots may share a label and differ by Start.
func (e *Engine) Slots(ctx context.Context, in Inputs, date calendar.Date, svc calendar.Service, visitorTimezone string) ([]Slot, error) {
	visitor, err := visitorLocation(in.ProviderTimezone, visitorTimezone)
	if err != nil {
		return nil, err
	}
	starts, err := e.Candidates(ctx, in, date, svc)
	if err != nil {
		return nil, err
	}
	out := make([]Slot, 0, len(starts))
	for _, st := range starts {
		out = append(out, Slot{Start: st.UTC(), End: st.Add(svc.Duration()).UTC(), Label: clockLabel(st, visitor)})
	}
	return out, nil
}

// Compute returns visitor-local "HH:MM" labels in chronological order. The
// result is never nil.
func (e *Engine) Compute(ctx context.Context, in Inputs, date calendar.Date, svc calendar.Service, visitorTimezone string) ([]string, error) {
	visitor, err := visitorLocation(in.ProviderTimezone, visitorTimezone)
	if err != nil {
		return nil, err
	}
	starts, err := e.Candidates(ctx, in, date, svc)
	if err != nil {
		return nil, err
	}
	return Project(starts, visitor), nil
}

// Offers reports whether start is one of the candidates for its provider-local date.
func (e *Engine) Offers(ctx context.Context, in Inputs, svc calendar.Service, start time.Time) (bool, error) {
	loc, err := calendar.LoadLocation(in.ProviderTimezone)
	if err != nil {
		return false, err
	}
	starts, err := e.Candidates(ctx, in, calendar.DateOf(start.In(loc)), svc)
	if err != nil {
		return false, err
	}
	i := sort.Search(len(starts), func(i int) bool { return !starts[i].Before(start) })
	return i < len(starts) && starts[i].Equal(start), nil
}

// Project formats instants as "HH:MM" in loc, one label per instant, in order.
// The repeated hour of a DST fall-back shows up twice.
func Project(starts []time.Time, loc *time.Location) []string {
	out := make([]string, 0, len(starts))
	for _, s := range starts {
		out = append(out, clockLabel(s, loc))
	}
	return out
}

// ActiveBookings drops cancelled bookings.
func ActiveBookings(bookings []calendar.Booking) []calendar.Booking {
	out := make([]calendar.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Active() {
			out = append(out, b)
		}
	}
	return out
}

// CountOnDate counts bookings whose start falls on date in loc.
func CountOnDate(bookings []calendar.Booking, date calendar.Date, loc *time.Location) int {
	n := 0
	for _, b := range bookings {
		if calendar.DateOf(b.Start.In(loc)) == date {
			n++
		}
	}
	return n
}

func clockLabel(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

func visitorLocation(providerTZ, visitorTZ string) (*time.Location, error) {
	if visitorTZ == "" {
		return calendar.LoadLocation(providerTZ)
	}
	return calendar.LoadLocation(visitorTZ)
}

func sortUnique(in []time.Time) []time.Time {
	if len(in) == 0 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Before(in[j]) })
	out := in[:1]
	for _, t := range in[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
