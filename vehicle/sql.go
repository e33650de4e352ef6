package vehicle

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNotOwner = errors.New("vehicle belongs to another driver")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Vehicle, error) {
	var v Vehicle
	err := r.db.GetContext(ctx, &v, getByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	return v, err
}

const getByID = `SELECT * FROM vehicles WHERE id = $1`

// GetForOwner fetches a vehicle and checks it is registered to ownerID.
func (r *Repository) GetForOwner(ctx context.Context, id, ownerID int64) (Vehicle, error) {
	v, err := r.GetByID(ctx, id)
	if err != nil {
		return v, err
	}
	if v.OwnerID != ownerID {
		return Vehicle{}, ErrNotOwner
	}
	return v, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID int64) ([]Vehicle, error) {
	var vehicles []Vehicle
	err := r.db.SelectContext(ctx, &vehicles, listByOwner, ownerID)
	return vehicles, err
}

const listByOwner = `SELECT * FROM vehicles WHERE owner_id = $1 ORDER BY id`

func (r *Repository) Create(ctx context.Context, v *Vehicle) error {
	return r.db.GetContext(ctx, v, create, v.OwnerID, v.Label, v.Model, v.Seats)
}

const create = `INSERT INTO vehicles (owner_id, label, model, seats) VALUES ($1, $2, $3, $4) RETURNING *`
