package availability

import (
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
)

// window is one working range on a date resolved to absolute instants.
type window struct {
	start time.Time
	end   time.Time
}

func resolveWindows(ranges []WorkingRange, date calendar.Date, loc *time.Location) []window {
	out := make([]window, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, window{start: date.At(r.Start, loc), end: date.At(r.End, loc)})
	}
	return out
}

// fits reports whether [start, start+d) lies inside the window.
func (w window) fits(start time.Time, d time.Duration) bool {
	return !start.Before(w.start) && !start.Add(d).After(w.end)
}

// stepper walks a window in absolute time, so a window spanning a DST change
// keeps a fixed cadence.
type stepper struct {
	duration time.Duration
	step     time.Duration
	busy     []calendar.Booking
	now      time.Time
}

func (s stepper) starts(w window) []time.Time {
	if s.duration <= 0 || s.step <= 0 {
		return nil
	}
	var out []time.Time
	for t := w.start; w.fits(t, s.duration); t = t.Add(s.step) {
		if t.Before(s.now) || s.blocked(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// blocked reports whether a slot starting at start intersects any busy booking.
func (s stepper) blocked(start time.Time) bool {
	end := start.Add(s.duration)
	for _, b := range s.busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
