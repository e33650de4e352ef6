package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/semanticallynull/carpool-backend/internal/pg"
)

var (
	ErrNotFound = errors.New("booking not found")
	// ErrConflict is returned by status updates when the row's current status does not allow
	// the requested transition.
	ErrConflict = errors.New("booking status does not permit this transition")
)

const activeBookingIndex = "bookings_one_active_per_passenger"

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetByID fetches a single booking by its ID without locking it.
func (r *Repository) GetByID(ctx context.Context, id int64) (Booking, error) {
	return getByID(ctx, r.db, id)
}

func getByID(ctx context.Context, q sqlx.QueryerContext, id int64) (Booking, error) {
	var b Booking
	err := sqlx.GetContext(ctx, q, &b, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const getByIDQuery = `SELECT * FROM bookings WHERE id = $1`

// GetForUpdate fetches a booking and locks its row until q's transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (Booking, error) {
	var b Booking
	err := sqlx.GetContext(ctx, q, &b, getForUpdateQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const getForUpdateQuery = `SELECT * FROM bookings WHERE id = $1 FOR UPDATE`

// FindByToken looks up the booking a confirmation token was minted for.
func (r *Repository) FindByToken(ctx context.Context, token string) (Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, findByTokenQuery, token)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const findByTokenQuery = `SELECT * FROM bookings WHERE confirmation_token = $1`

// FindActiveForUpdate returns the passenger's non-cancelled booking on the ride, locked, or
// nil if there is none.
func (r *Repository) FindActiveForUpdate(ctx context.Context, q sqlx.ExtContext, rideID, userID int64) (*Booking, error) {
	var b Booking
	err := sqlx.GetContext(ctx, q, &b, findActiveForUpdateQuery, rideID, userID, StatusCancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const findActiveForUpdateQuery = `
SELECT * FROM bookings
WHERE ride_id = $1
  AND user_id = $2
  AND status <> $3
FOR UPDATE
`

// SumConfirmedSeatsForUpdate locks every non-cancelled booking on the ride and returns the
// number of seats they hold. Call it only while holding the ride's row lock.
func (r *Repository) SumConfirmedSeatsForUpdate(ctx context.Context, q sqlx.ExtContext, rideID int64) (int, error) {
	var seats int
	err := sqlx.GetContext(ctx, q, &seats, sumConfirmedSeatsQuery, rideID, StatusCancelled)
	return seats, err
}

// Postgres does not allow FOR UPDATE next to an aggregate, so the lock is taken in a subquery.
const sumConfirmedSeatsQuery = `
SELECT COALESCE(SUM(seats_booked), 0)::int FROM (
    SELECT seats_booked FROM bookings
    WHERE ride_id = $1 AND status <> $2
    FOR UPDATE
) active
`

// ListForRideForUpdate locks and returns the ride's bookings in any of the given statuses.
func (r *Repository) ListForRideForUpdate(ctx context.Context, q sqlx.ExtContext, rideID int64, statuses ...BookingStatus) ([]Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(listForRideForUpdateQuery, rideID, statuses)
	if err != nil {
		return nil, err
	}
	var bookings []Booking
	err = sqlx.SelectContext(ctx, q, &bookings, q.Rebind(query), args...)
	return bookings, err
}

const listForRideForUpdateQuery = `
SELECT * FROM bookings
WHERE ride_id = ? AND status IN (?)
ORDER BY id
FOR UPDATE
`

// CountByStatus counts the ride's bookings currently in the given status.
func (r *Repository) CountByStatus(ctx context.Context, q sqlx.ExtContext, rideID int64, status BookingStatus) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, countByStatusQuery, rideID, status)
	return n, err
}

const countByStatusQuery = `SELECT count(*) FROM bookings WHERE ride_id = $1 AND status = $2`

// Insert creates the booking row. A second active booking for the same passenger and ride is
// rejected by a partial unique index and reported as ErrAlreadyBooked.
func (r *Repository) Insert(ctx context.Context, q sqlx.ExtContext, b *Booking) error {
	err := sqlx.GetContext(ctx, q, b, insertQuery, b.UserID, b.RideID, b.SeatsBooked, b.Status, b.TotalCost)
	if pg.IsUniqueViolation(err, activeBookingIndex) {
		return ErrAlreadyBooked
	}
	return err
}

const insertQuery = `
INSERT INTO bookings (user_id, ride_id, seats_booked, status, total_cost, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING *
`

// SetStatus moves the booking to status. The update only applies if the row's current status
// is a legal predecessor; otherwise ErrConflict is returned and nothing changes.
func (r *Repository) SetStatus(ctx context.Context, q sqlx.ExtContext, id int64, status BookingStatus) (Booking, error) {
	if status == StatusCancelled {
		return r.transition(ctx, q, id, status, ", cancelled_at = now()")
	}
	return r.transition(ctx, q, id, status, "")
}

// AwaitConfirmation moves a confirmed booking to ConfirmedPendingPassengerConfirmation and
// attaches its confirmation token.
func (r *Repository) AwaitConfirmation(ctx context.Context, q sqlx.ExtContext, id int64, token string) (Booking, error) {
	return r.transition(ctx, q, id, StatusConfirmedPendingPassengerConfirmation,
		", confirmation_token = ?", token)
}

// MarkCredited records the settlement of a booking and the net amount paid to the driver.
func (r *Repository) MarkCredited(ctx context.Context, q sqlx.ExtContext, id int64, net decimal.Decimal) (Booking, error) {
	return r.transition(ctx, q, id, StatusConfirmedAndCredited,
		", net_credited = ?, settled_at = now()", net)
}

func (r *Repository) transition(ctx context.Context, q sqlx.ExtContext, id int64, to BookingStatus, set string, setArgs ...any) (Booking, error) {
	from := Predecessors(to)
	if len(from) == 0 {
		return Booking{}, ErrConflict
	}

	args := append([]any{to}, setArgs...)
	args = append(args, id, from)
	query, args, err := sqlx.In(`UPDATE bookings SET status = ?`+set+` WHERE id = ? AND status IN (?) RETURNING *`, args...)
	if err != nil {
		return Booking{}, err
	}

	var b Booking
	err = sqlx.GetContext(ctx, q, &b, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := getByID(ctx, q, id)
		if err != nil {
			return Booking{}, err
		}
		return Booking{}, fmt.Errorf("%w: %s -> %s", ErrConflict, current.Status, to)
	}
	return b, err
}

// GetByUserID fetches all bookings for a passenger, optionally filtered by status, newest
// first.
func (r *Repository) GetByUserID(ctx context.Context, userID int64, status *BookingStatus) ([]Booking, error) {
	var bookings []Booking
	var err error
	if status != nil {
		err = r.db.SelectContext(ctx, &bookings, getByUserIDAndStatusQuery, userID, *status)
	} else {
		err = r.db.SelectContext(ctx, &bookings, getByUserIDQuery, userID)
	}
	return bookings, err
}

const getByUserIDQuery = `SELECT * FROM bookings WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

const getByUserIDAndStatusQuery = `SELECT * FROM bookings WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC`

// SeatsBooked returns the seats held by non-cancelled bookings on a ride, without locking.
func (r *Repository) SeatsBooked(ctx context.Context, rideID int64) (int, error) {
	var seats int
	err := r.db.GetContext(ctx, &seats, seatsBookedQuery, rideID, StatusCancelled)
	return seats, err
}

const seatsBookedQuery = `SELECT COALESCE(SUM(seats_booked), 0)::int FROM bookings WHERE ride_id = $1 AND status <> $2`
