// Package settlement pays drivers for completed rides once the passenger confirms, exactly
// once per booking.
package settlement

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

	"github.com/semanticallynull/carpool-backend/booking"
	"github.com/semanticallynull/carpool-backend/internal/events"
	"github.com/semanticallynull/carpool-backend/internal/o11y"
	"github.com/semanticallynull/carpool-backend/internal/pg"
	"github.com/semanticallynull/carpool-backend/ride"
)

var (
	ErrInvalidToken = errors.New("invalid confirmation token")
	ErrInvalidState = errors.New("booking is not awaiting confirmation")
)

var tracer = otel.Tracer("settlement")

type RideStore interface {
	GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (ride.Ride, error)
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, id int64, status ride.Status) error
	AddNetCredits(ctx context.Context, q sqlx.ExtContext, id int64, amount decimal.Decimal) error
}

type Ledger interface {
	Credit(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal) error
}

// Result describes a confirmation. AlreadyProcessed is set when the booking had been settled
// by an earlier call; NetAmount then repeats what that call credited.
type Result struct {
	Booking          booking.Booking
	DriverID         int64
	AlreadyProcessed bool
	NetAmount        decimal.Decimal
	Commission       decimal.Decimal
	RideCompleted    bool
}

// Split divides a gross fare into the driver's net amount and the commission withheld. The
// commission is a flat fee; a fare at or below it pays the driver nothing.
func Split(gross, commission decimal.Decimal) (net, withheld decimal.Decimal) {
	net = gross.Sub(commission)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return net, gross.Sub(net)
}

type Service struct {
	tx         *pg.Transactor
	rides      RideStore
	bookings   *booking.Repository
	ledger     Ledger
	emitter    *events.Emitter
	commission decimal.Decimal
	logger     *slog.Logger
	metrics    *o11y.Metrics
}

func NewService(tx *pg.Transactor, rides RideStore, bookings *booking.Repository, ledger Ledger,
	emitter *events.Emitter, commission decimal.Decimal, logger *slog.Logger, metrics *o11y.Metrics) *Service {
	return &Service{
		tx:         tx,
		rides:      rides,
		bookings:   bookings,
		ledger:     ledger,
		emitter:    emitter,
		commission: commission,
		logger:     logger,
		metrics:    metrics,
	}
}

// ConfirmAndSettle records the passenger's confirmation for the booking the token was minted
// for and credits the driver. Repeating the call with the same token is a successful no-op.
func (s *Service) ConfirmAndSettle(ctx context.Context, token string) (Result, error) {
	ctx, span := tracer.Start(ctx, "settlement.ConfirmAndSettle")
	defer span.End()

	res, err := s.confirmAndSettle(ctx, token)
	s.metrics.Settlement(outcome(res, err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int64("booking.id", res.Booking.ID),
		attribute.Int64("ride.id", res.Booking.RideID),
		attribute.Bool("already_processed", res.AlreadyProcessed),
	)

	if res.AlreadyProcessed {
		s.logger.InfoContext(ctx, "settlement already processed", "bookingId", res.Booking.ID)
		return res, nil
	}

	s.metrics.Settled(res.NetAmount, res.Commission)
	s.logger.InfoContext(ctx, "settlement completed",
		"bookingId", res.Booking.ID, "rideId", res.Booking.RideID, "driverId", res.DriverID,
		"net", res.NetAmount.String(), "commission", res.Commission.String(), "rideCompleted", res.RideCompleted)

	s.emitter.Emit(ctx,
		events.New(events.CreditsTransferred, res.Booking.RideID).
			WithPassenger(res.Booking.UserID).WithDriver(res.DriverID).WithAmount(res.NetAmount),
		events.New(events.CommissionCollected, res.Booking.RideID).
			WithPassenger(res.Booking.UserID).WithAmount(res.Commission),
		events.New(events.RideCompleted, res.Booking.RideID).WithDriver(res.DriverID),
	)
	return res, nil
}

func (s *Service) confirmAndSettle(ctx context.Context, token string) (Result, error) {
	if token == "" {
		return Result{}, ErrInvalidToken
	}
	b, err := s.bookings.FindByToken(ctx, token)
	if errors.Is(err, booking.ErrNotFound) {
		return Result{}, ErrInvalidToken
	}
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = s.tx.InTx(ctx, func(tx *sqlx.Tx) error {
		r, err := s.rides.GetForUpdate(ctx, tx, b.RideID)
		if err != nil {
			return err
		}
		locked, err := s.bookings.GetForUpdate(ctx, tx, b.ID)
		if err != nil {
			return err
		}

		switch locked.Status {
		case booking.StatusConfirmedAndCredited:
			res = Result{
				Booking:          locked,
				DriverID:         r.DriverID,
				AlreadyProcessed: true,
				NetAmount:        locked.NetCredited.Decimal,
			}
			return nil
		case booking.StatusConfirmedPendingPassengerConfirmation:
		default:
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, locked.Status)
		}

		net, withheld := Split(r.Fare(locked.SeatsBooked), s.commission)
		if net.IsPositive() {
			if err := s.ledger.Credit(ctx, tx, r.DriverID, net); err != nil {
				return fmt.Errorf("credit driver %d: %w", r.DriverID, err)
			}
			if err := s.rides.AddNetCredits(ctx, tx, r.ID, net); err != nil {
				return err
			}
		}

		settled, err := s.bookings.MarkCredited(ctx, tx, locked.ID, net)
		if err != nil {
			return err
		}

		completed, err := s.completeRideIfSettled(ctx, tx, r)
		if err != nil {
			return err
		}

		res = Result{
			Booking:       settled,
			DriverID:      r.DriverID,
			NetAmount:     net,
			Commission:    withheld,
			RideCompleted: completed,
		}
		return nil
	})
	return res, err
}

// completeRideIfSettled moves the ride to completed once no booking on it still awaits
// passenger confirmation.
func (s *Service) completeRideIfSettled(ctx context.Context, tx sqlx.ExtContext, r ride.Ride) (bool, error) {
	if r.Status != ride.StatusCompletedPendingConfirmation {
		return false, nil
	}
	waiting, err := s.bookings.CountByStatus(ctx, tx, r.ID, booking.StatusConfirmedPendingPassengerConfirmation)
	if err != nil || waiting > 0 {
		return false, err
	}
	if err := s.rides.UpdateStatus(ctx, tx, r.ID, ride.StatusCompleted); err != nil {
		return false, err
	}
	return true, nil
}

func outcome(res Result, err error) string {
	switch {
	case err == nil && res.AlreadyProcessed:
		return "already_processed"
	case err == nil:
		return "settled"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, pg.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
