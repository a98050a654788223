package calendar

import (
	"errors"
	"fmt"
	"sort"
)

// WeeklyEntry is one provider-local working range on a weekday. A day may
// have several entries (split shifts); a day with none is closed.
type WeeklyEntry struct {
	Day   DayOfWeek `json:"day_of_week"`
	Start Clock     `json:"start_time"`
	End   Clock     `json:"end_time"`
}

func (e WeeklyEntry) Validate() error {
	if !e.Day.Valid() {
		return fmt.Errorf("invalid day of week %q", e.Day)
	}
	if e.Start < 0 || e.End > EndOfDay {
		return fmt.Errorf("%s: time out of range", e.Day)
	}
	if e.Start >= e.End {
		return fmt.Errorf("%s: start_time %s must be before end_time %s", e.Day, e.Start, e.End)
	}
	return nil
}

// NormalizeWeekly sorts entries Monday first by start then end and drops exact duplicates.
func NormalizeWeekly(entries []WeeklyEntry) []WeeklyEntry {
	out := make([]WeeklyEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Day != b.Day {
			return a.Day.index() < b.Day.index()
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	deduped := out[:0]
	for i, e := range out {
		if i > 0 && e == out[i-1] {
			continue
		}
		deduped = append(deduped, e)
	}
	return deduped
}

// SameWeekly reports whether two entry sets describe the same week, ignoring order.
func SameWeekly(a, b []WeeklyEntry) bool {
	na, nb := NormalizeWeekly(a), NormalizeWeekly(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// EntriesFor returns the entries that apply on day.
func EntriesFor(entries []WeeklyEntry, day DayOfWeek) []WeeklyEntry {
	var out []WeeklyEntry
	for _, e := range entries {
		if e.Day == day {
			out = append(out, e)
		}
	}
	return out
}

// DateOverride replaces the weekly hours for one provider-local date.
// IsUnavailable blocks the whole date; otherwise Start/End are the only hours.
type DateOverride struct {
	ID            string `json:"id,omitempty"`
	Date          Date   `json:"date"`
	IsUnavailable bool   `json:"is_unavailable"`
	Start         *Clock `json:"start_time,omitempty"`
	End           *Clock `json:"end_time,omitempty"`
}

func (o DateOverride) Validate() error {
	if o.Date.IsZero() {
		return errors.New("date is required")
	}
	if o.IsUnavailable {
		return nil
	}
	if o.Start == nil || o.End == nil {
		return errors.New("start_time and end_time are required unless is_unavailable")
	}
	if *o.Start >= *o.End || *o.End > EndOfDay {
		return fmt.Errorf("start_time %s must be before end_time %s", *o.Start, *o.End)
	}
	return nil
}

type CapacityMode string

const (
	CapacityFullyBooked CapacityMode = "fully_booked"
	CapacityMaxPerDay   CapacityMode = "max_per_day"
)

// CapacityPolicy caps bookings per provider-local day. FullyBooked means only
// open time limits the day.
type CapacityPolicy struct {
	Mode      CapacityMode `json:"max_appointments_mode"`
	MaxPerDay int          `json:"max_appointments_per_day,omitempty"`
}

func (p CapacityPolicy) Validate() error {
	switch p.Mode {
	case "", CapacityFullyBooked:
		return nil
	case CapacityMaxPerDay:
		if p.MaxPerDay < 1 {
			return errors.New("max_appointments_per_day must be at least 1")
		}
		return nil
	default:
		return fmt.Errorf("invalid max_appointments_mode %q", p.Mode)
	}
}

// DailyLimit returns the cap and whether one applies.
func (p CapacityPolicy) DailyLimit() (int, bool) {
	if p.Mode == CapacityMaxPerDay && p.MaxPerDay > 0 {
		return p.MaxPerDay, true
	}
	return 0, false
}
