package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DayOfWeek is the three-letter lowercase weekday used in schedules ("mon".."sun").
type DayOfWeek string

const (
	Monday    DayOfWeek = "mon"
	Tuesday   DayOfWeek = "tue"
	Wednesday DayOfWeek = "wed"
	Thursday  DayOfWeek = "thu"
	Friday    DayOfWeek = "fri"
	Saturday  DayOfWeek = "sat"
	Sunday    DayOfWeek = "sun"
)

// Week lists the days in display order.
var Week = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdays = map[DayOfWeek]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

func ParseDayOfWeek(s string) (DayOfWeek, error) {
	d := DayOfWeek(strings.ToLower(strings.TrimSpace(s)))
	if len(d) > 3 {
		d = d[:3]
	}
	if !d.Valid() {
		return "", fmt.Errorf("invalid day of week %q", s)
	}
	return d, nil
}

func DayOf(w time.Weekday) DayOfWeek {
	return Week[(int(w)+6)%7]
}

func (d DayOfWeek) Valid() bool {
	_, ok := weekdays[d]
	return ok
}

func (d DayOfWeek) Weekday() time.Weekday {
	return weekdays[d]
}

// index orders Monday first.
func (d DayOfWeek) index() int {
	return (int(weekdays[d]) + 6) % 7
}
