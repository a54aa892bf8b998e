package model

import "time"

// Booking statuses. A booking starts pending, becomes confirmed once payment
// is captured, and only cancelled/rejected bookings release their slot.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

type Booking struct {
	ID            string
	ProviderID    string
	ServiceID     string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	StartTime     time.Time
	EndTime       time.Time
	Status        string
	PaidAt        *time.Time
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}

// Blocks returns whether this booking holds its start instant against new
// bookings; cancelled and rejected bookings do not.
func (b Booking) Blocks() bool {
	return b.Status != StatusCancelled && b.Status != StatusRejected
}
