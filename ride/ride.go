package ride

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPublished                    Status = "published"
	StatusInProgress                   Status = "in_progress"
	StatusCompletedPendingConfirmation Status = "completed_pending_confirmation"
	StatusCompleted                    Status = "completed"
	StatusCancelled                    Status = "cancelled"
)

// transitions lists, for each status, the statuses a ride may move to next.
var transitions = map[Status][]Status{
	StatusPublished:                    {StatusInProgress, StatusCancelled},
	StatusInProgress:                   {StatusCompletedPendingConfirmation, StatusCancelled},
	StatusCompletedPendingConfirmation: {StatusCompleted},
}

// CanTransition reports whether a ride in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ride is a trip published by a driver with a fixed number of seats for sale.
type Ride struct {
	ID           int64           `db:"id"`
	DriverID     int64           `db:"driver_id"`
	VehicleID    int64           `db:"vehicle_id"`
	Origin       string          `db:"origin"`
	Destination  string          `db:"destination"`
	DepartsAt    time.Time       `db:"departs_at"`
	SeatsOffered int             `db:"seats_offered"`
	PricePerSeat decimal.Decimal `db:"price_per_seat"`
	Status       Status          `db:"status"`
	// TotalNetCreditsEarned only ever grows, by the net amount of each settled booking.
	TotalNetCreditsEarned decimal.Decimal `db:"total_net_credits_earned"`
	CreatedAt             time.Time       `db:"created_at"`
}

// Fare is the gross price of the given number of seats on this ride.
func (r Ride) Fare(seats int) decimal.Decimal {
	return r.PricePerSeat.Mul(decimal.NewFromInt(int64(seats)))
}
