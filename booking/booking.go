package booking

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	// StatusConfirmedPendingPassengerConfirmation is set when the ride finishes; the booking
	// carries a confirmation token from then on.
	StatusConfirmedPendingPassengerConfirmation BookingStatus = "confirmed_pending_passenger_confirmation"
	// StatusConfirmedAndCredited is terminal: the driver has been paid for this booking.
	StatusConfirmedAndCredited BookingStatus = "confirmed_and_credited"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusConfirmedPendingPassengerConfirmation, StatusCancelled},
	StatusConfirmedPendingPassengerConfirmation: {StatusConfirmedAndCredited},
}

// CanTransition reports whether a booking may move from one status to another. Transitions
// only ever move forward; cancelled and credited bookings are final.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which a booking may move to the given status.
func Predecessors(to BookingStatus) []BookingStatus {
	var from []BookingStatus
	for s := range transitions {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Active reports whether the booking still holds its seats.
func (s BookingStatus) Active() bool {
	return s != StatusCancelled
}

// Cancellable reports whether a passenger or driver may still cancel the booking.
func (s BookingStatus) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

type Booking struct {
	ID                int64           `db:"id"`
	UserID            int64           `db:"user_id"`
	RideID            int64           `db:"ride_id"`
	SeatsBooked       int             `db:"seats_booked"`
	Status            BookingStatus   `db:"status"`
	TotalCost         decimal.Decimal `db:"total_cost"`
	ConfirmationToken sql.NullString  `db:"confirmation_token"`
	// NetCredited is what the driver received for this booking, set once at settlement.
	NetCredited decimal.NullDecimal `db:"net_credited"`
	CreatedAt   time.Time           `db:"created_at"`
	CancelledAt sql.NullTime        `db:"cancelled_at"`
	SettledAt   sql.NullTime        `db:"settled_at"`
}

const tokenBytes = 32

// NewConfirmationToken returns 256 random bits, URL-safe base64 encoded without padding.
func NewConfirmationToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
