package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/semanticallynull/carpool-backend/account"
	"github.com/semanticallynull/carpool-backend/internal/o11y"
	"github.com/semanticallynull/carpool-backend/internal/pg"
	"github.com/semanticallynull/carpool-backend/ride"
)

var (
	ErrInvalidSeats        = errors.New("seat count must be at least 1")
	ErrRideNotBookable     = errors.New("ride is not open for booking")
	ErrAlreadyBooked       = errors.New("passenger already has an active booking on this ride")
	ErrSeatsUnavailable    = errors.New("not enough seats left on this ride")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrForbidden           = errors.New("not authorized to modify this booking")
	ErrInvalidState        = errors.New("booking can no longer be cancelled")
)

var tracer = otel.Tracer("booking")

type RideStore interface {
	GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (ride.Ride, error)
}

type Ledger interface {
	Debit(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal) error
	Credit(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal) error
}

// Service creates and cancels bookings. Each call is one transaction that takes the ride lock
// first, then booking rows, then account rows.
type Service struct {
	tx       *pg.Transactor
	rides    RideStore
	bookings *Repository
	ledger   Ledger
	logger   *slog.Logger
	metrics  *o11y.Metrics
}

func NewService(tx *pg.Transactor, rides RideStore, bookings *Repository, ledger Ledger, logger *slog.Logger, metrics *o11y.Metrics) *Service {
	return &Service{
		tx:       tx,
		rides:    rides,
		bookings: bookings,
		ledger:   ledger,
		logger:   logger,
		metrics:  metrics,
	}
}

// CreateBooking reserves seats on a published ride for a passenger and charges them up front.
// Either the seats are held and paid for, or nothing changes.
func (s *Service) CreateBooking(ctx context.Context, rideID, passengerID int64, seats int) (Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.CreateBooking")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ride.id", rideID),
		attribute.Int64("passenger.id", passengerID),
		attribute.Int("seats", seats),
	)

	b, err := s.createBooking(ctx, rideID, passengerID, seats)
	s.metrics.BookingCreated(outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Booking{}, err
	}

	s.logger.InfoContext(ctx, "booking created",
		"bookingId", b.ID, "rideId", rideID, "passengerId", passengerID,
		"seats", seats, "cost", b.TotalCost.String())
	return b, nil
}

func (s *Service) createBooking(ctx context.Context, rideID, passengerID int64, seats int) (Booking, error) {
	if seats < 1 {
		return Booking{}, ErrInvalidSeats
	}

	var b Booking
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		r, err := s.rides.GetForUpdate(ctx, tx, rideID)
		if errors.Is(err, ride.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrRideNotBookable, err)
		}
		if err != nil {
			return err
		}
		if r.Status != ride.StatusPublished {
			return fmt.Errorf("%w: ride is %s", ErrRideNotBookable, r.Status)
		}
		if r.DriverID == passengerID {
			return fmt.Errorf("%w: drivers cannot book their own ride", ErrRideNotBookable)
		}

		existing, err := s.bookings.FindActiveForUpdate(ctx, tx, rideID, passengerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyBooked
		}

		booked, err := s.bookings.SumConfirmedSeatsForUpdate(ctx, tx, rideID)
		if err != nil {
			return err
		}
		if booked+seats > r.SeatsOffered {
			return ErrSeatsUnavailable
		}

		cost := r.Fare(seats)
		err = s.ledger.Debit(ctx, tx, passengerID, cost)
		if errors.Is(err, account.ErrInsufficientFunds) {
			return ErrInsufficientCredits
		}
		if err != nil {
			return err
		}

		b = Booking{
			UserID:      passengerID,
			RideID:      rideID,
			SeatsBooked: seats,
			Status:      StatusConfirmed,
			TotalCost:   cost,
		}
		return s.bookings.Insert(ctx, tx, &b)
	})
	return b, err
}

// CancelBooking cancels a pending or confirmed booking and refunds the passenger in full.
// Either the passenger or the ride's driver may cancel.
func (s *Service) CancelBooking(ctx context.Context, bookingID, requesterID int64) (Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.CancelBooking")
	defer span.End()
	span.SetAttributes(attribute.Int64("booking.id", bookingID), attribute.Int64("requester.id", requesterID))

	b, err := s.cancelBooking(ctx, bookingID, requesterID)
	s.metrics.BookingCancelled(outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Booking{}, err
	}

	s.logger.InfoContext(ctx, "booking cancelled",
		"bookingId", b.ID, "rideId", b.RideID, "requesterId", requesterID, "refund", b.TotalCost.String())
	return b, nil
}

func (s *Service) cancelBooking(ctx context.Context, bookingID, requesterID int64) (Booking, error) {
	// The ride id never changes, so it is safe to read it unlocked and then lock in
	// ride -> booking order.
	unlocked, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}

	var cancelled Booking
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		r, err := s.rides.GetForUpdate(ctx, tx, unlocked.RideID)
		if err != nil {
			return err
		}

		b, err := s.bookings.GetForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != requesterID && r.DriverID != requesterID {
			return ErrForbidden
		}
		if !b.Status.Cancellable() {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, b.Status)
		}

		if err := s.ledger.Credit(ctx, tx, b.UserID, b.TotalCost); err != nil {
			return err
		}

		cancelled, err = s.bookings.SetStatus(ctx, tx, b.ID, StatusCancelled)
		return err
	})
	return cancelled, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSeatsUnavailable):
		return "seats_unavailable"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrRideNotBookable):
		return "ride_not_bookable"
	case errors.Is(err, ErrInvalidSeats):
		return "invalid_seats"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		return "invalid_state"
	case errors.Is(err, pg.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
