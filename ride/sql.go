package ride

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound       = errors.New("ride not found")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Repository reads and writes ride rows. Methods that take a sqlx.ExtContext run on the
// caller's transaction; the ride row lock is always the first lock a transaction takes.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetByID reads a ride without locking it.
func (r *Repository) GetByID(ctx context.Context, id int64) (Ride, error) {
	var ride Ride
	err := r.db.GetContext(ctx, &ride, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	return ride, err
}

const getByIDQuery = `SELECT * FROM rides WHERE id = $1`

// GetForUpdate reads the ride and holds an exclusive row lock on it until q's transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (Ride, error) {
	var ride Ride
	err := sqlx.GetContext(ctx, q, &ride, getForUpdateQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Ride{}, ErrNotFound
	}
	return ride, err
}

const getForUpdateQuery = `SELECT * FROM rides WHERE id = $1 FOR UPDATE`

// Create inserts a new ride in the published state.
func (r *Repository) Create(ctx context.Context, q sqlx.ExtContext, ride *Ride) error {
	return sqlx.GetContext(ctx, q, ride, createQuery,
		ride.DriverID, ride.VehicleID, ride.Origin, ride.Destination, ride.DepartsAt,
		ride.SeatsOffered, ride.PricePerSeat, StatusPublished)
}

const createQuery = `
INSERT INTO rides (driver_id, vehicle_id, origin, destination, departs_at, seats_offered, price_per_seat, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING *
`

// UpdateStatus sets the ride's status. The caller validates the transition with
// CanTransition while holding the row lock.
func (r *Repository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id int64, status Status) error {
	res, err := q.ExecContext(ctx, updateStatusQuery, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const updateStatusQuery = `UPDATE rides SET status = $2 WHERE id = $1`

// AddNetCredits adds a settled booking's net amount to the ride's running total.
func (r *Repository) AddNetCredits(ctx context.Context, q sqlx.ExtContext, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	res, err := q.ExecContext(ctx, addNetCreditsQuery, id, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const addNetCreditsQuery = `UPDATE rides SET total_net_credits_earned = total_net_credits_earned + $2 WHERE id = $1`
