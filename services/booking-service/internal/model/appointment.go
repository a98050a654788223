package model

import (
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
)

// Appointment is a stored booking plus the customer contact captured at commit.
type Appointment struct {
	calendar.Booking
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}
