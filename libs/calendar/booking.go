package calendar

import (
	"fmt"
	"time"
)

type Service struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id,omitempty"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	IsActive        bool   `json:"is_active"`
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusPending   BookingStatus = "pending"
	StatusCancelled BookingStatus = "cancelled"
)

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case StatusConfirmed, StatusPending, StatusCancelled:
		return st, nil
	case "":
		return StatusConfirmed, nil
	default:
		return "", fmt.Errorf("invalid booking status %q", s)
	}
}

// Booking is an existing appointment. Start and End are stored in UTC.
type Booking struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	ServiceID  string        `json:"service_id"`
	StaffID    string        `json:"staff_id,omitempty"`
	CustomerID string        `json:"customer_id,omitempty"`
	Start      time.Time     `json:"start_time"`
	End        time.Time     `json:"end_time"`
	Status     BookingStatus `json:"status"`
}

// Active reports whether the booking holds its time. Pending counts.
func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

// Overlaps uses half-open intervals: back-to-back ranges do not overlap.
func (b Booking) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}
