// Package lifecycle moves rides through their states on the driver's behalf: publishing,
// starting, finishing (which mints confirmation tokens) and withdrawing a ride.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/account"
	"github.com/semanticallynull/carpool-backend/booking"
	"github.com/semanticallynull/carpool-backend/internal/events"
	"github.com/semanticallynull/carpool-backend/internal/pg"
	"github.com/semanticallynull/carpool-backend/ride"
	"github.com/semanticallynull/carpool-backend/vehicle"
)

var (
	ErrNotDriver    = errors.New("only the ride's driver may change it")
	ErrInvalidRide  = errors.New("invalid ride")
	ErrInvalidState = errors.New("ride cannot make this transition")
)

type VehicleStore interface {
	GetForOwner(ctx context.Context, id, ownerID int64) (vehicle.Vehicle, error)
}

type Ledger interface {
	Credit(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal) error
}

type PublishRequest struct {
	VehicleID    int64
	SeatsOffered int
	PricePerSeat decimal.Decimal
	Origin       string
	Destination  string
	DepartsAt    time.Time
}

type Service struct {
	tx       *pg.Transactor
	rides    *ride.Repository
	vehicles VehicleStore
	bookings *booking.Repository
	ledger   Ledger
	emitter  *events.Emitter
	minPrice decimal.Decimal
	logger   *slog.Logger
}

// NewService builds the lifecycle service. Rides cannot be priced below minPrice, which is the
// platform commission.
func NewService(tx *pg.Transactor, rides *ride.Repository, vehicles VehicleStore, bookings *booking.Repository,
	ledger Ledger, emitter *events.Emitter, minPrice decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{
		tx:       tx,
		rides:    rides,
		vehicles: vehicles,
		bookings: bookings,
		ledger:   ledger,
		emitter:  emitter,
		minPrice: minPrice,
		logger:   logger,
	}
}

func (s *Service) PublishRide(ctx context.Context, driverID int64, req PublishRequest) (ride.Ride, error) {
	if req.SeatsOffered < 1 {
		return ride.Ride{}, fmt.Errorf("%w: at least one seat must be offered", ErrInvalidRide)
	}
	if err := account.CheckPrecision(req.PricePerSeat); err != nil {
		return ride.Ride{}, fmt.Errorf("%w: %w", ErrInvalidRide, err)
	}
	if req.PricePerSeat.LessThan(s.minPrice) {
		return ride.Ride{}, fmt.Errorf("%w: price per seat must be at least %s", ErrInvalidRide, s.minPrice)
	}

	v, err := s.vehicles.GetForOwner(ctx, req.VehicleID, driverID)
	if err != nil {
		return ride.Ride{}, err
	}
	if req.SeatsOffered > v.Seats {
		return ride.Ride{}, fmt.Errorf("%w: vehicle has %d seats", ErrInvalidRide, v.Seats)
	}

	departsAt := req.DepartsAt
	if departsAt.IsZero() {
		departsAt = time.Now()
	}
	r := ride.Ride{
		DriverID:     driverID,
		VehicleID:    v.ID,
		Origin:       req.Origin,
		Destination:  req.Destination,
		DepartsAt:    departsAt,
		SeatsOffered: req.SeatsOffered,
		PricePerSeat: req.PricePerSeat,
	}
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		return s.rides.Create(ctx, tx, &r)
	})
	if err != nil {
		return ride.Ride{}, err
	}

	s.logger.InfoContext(ctx, "ride published", "rideId", r.ID, "driverId", driverID, "seats", r.SeatsOffered)
	return r, nil
}

// StartRide marks a published ride as in progress. Bookings are closed from then on.
func (s *Service) StartRide(ctx context.Context, rideID, driverID int64) (ride.Ride, error) {
	var r ride.Ride
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		r, err = s.lockOwnRide(ctx, tx, rideID, driverID, ride.StatusInProgress)
		if err != nil {
			return err
		}
		if err := s.rides.UpdateStatus(ctx, tx, r.ID, ride.StatusInProgress); err != nil {
			return err
		}
		r.Status = ride.StatusInProgress
		return nil
	})
	return r, err
}

// FinishRide marks an in-progress ride as completed pending confirmation. Each confirmed
// booking receives a confirmation token and its passenger is notified once the transaction has
// committed. Bookings still pending are cancelled and refunded. A ride with nothing to confirm
// is completed immediately.
func (s *Service) FinishRide(ctx context.Context, rideID, driverID int64) (ride.Ride, error) {
	var r ride.Ride
	var notifications []events.Notification
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		notifications = nil

		var err error
		r, err = s.lockOwnRide(ctx, tx, rideID, driverID, ride.StatusCompletedPendingConfirmation)
		if err != nil {
			return err
		}

		active, err := s.bookings.ListForRideForUpdate(ctx, tx, r.ID, booking.StatusPending, booking.StatusConfirmed)
		if err != nil {
			return err
		}
		for _, b := range active {
			if b.Status == booking.StatusPending {
				if err := s.refund(ctx, tx, b); err != nil {
					return err
				}
				continue
			}

			token, err := booking.NewConfirmationToken()
			if err != nil {
				return err
			}
			if _, err := s.bookings.AwaitConfirmation(ctx, tx, b.ID, token); err != nil {
				return err
			}
			notifications = append(notifications, events.Notification{
				RecipientID:       b.UserID,
				RideID:            r.ID,
				ConfirmationToken: token,
			})
		}

		r.Status = ride.StatusCompletedPendingConfirmation
		if len(notifications) == 0 {
			r.Status = ride.StatusCompleted
		}
		return s.rides.UpdateStatus(ctx, tx, r.ID, r.Status)
	})
	if err != nil {
		return ride.Ride{}, err
	}

	s.logger.InfoContext(ctx, "ride finished", "rideId", r.ID, "awaitingConfirmation", len(notifications))
	s.emitter.Notify(ctx, notifications...)
	return r, nil
}

// CancelRide withdraws a ride that has not finished and refunds every booking on it.
func (s *Service) CancelRide(ctx context.Context, rideID, driverID int64) (ride.Ride, error) {
	var r ride.Ride
	var refunded int
	err := s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		r, err = s.lockOwnRide(ctx, tx, rideID, driverID, ride.StatusCancelled)
		if err != nil {
			return err
		}

		active, err := s.bookings.ListForRideForUpdate(ctx, tx, r.ID, booking.StatusPending, booking.StatusConfirmed)
		if err != nil {
			return err
		}
		for _, b := range active {
			if err := s.refund(ctx, tx, b); err != nil {
				return err
			}
		}
		refunded = len(active)

		if err := s.rides.UpdateStatus(ctx, tx, r.ID, ride.StatusCancelled); err != nil {
			return err
		}
		r.Status = ride.StatusCancelled
		return nil
	})
	if err != nil {
		return ride.Ride{}, err
	}

	s.logger.InfoContext(ctx, "ride cancelled", "rideId", r.ID, "bookingsRefunded", refunded)
	return r, nil
}

func (s *Service) lockOwnRide(ctx context.Context, tx sqlx.ExtContext, rideID, driverID int64, next ride.Status) (ride.Ride, error) {
	r, err := s.rides.GetForUpdate(ctx, tx, rideID)
	if err != nil {
		return ride.Ride{}, err
	}
	if r.DriverID != driverID {
		return ride.Ride{}, ErrNotDriver
	}
	if !ride.CanTransition(r.Status, next) {
		return ride.Ride{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, r.Status, next)
	}
	return r, nil
}

func (s *Service) refund(ctx context.Context, tx sqlx.ExtContext, b booking.Booking) error {
	if err := s.ledger.Credit(ctx, tx, b.UserID, b.TotalCost); err != nil {
		return err
	}
	_, err := s.bookings.SetStatus(ctx, tx, b.ID, booking.StatusCancelled)
	return err
}
