package account

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrInvalidAmount     = errors.New("amount must not be negative")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

const getByIDQuery = `SELECT * FROM accounts WHERE id = $1`

func (r *Repository) GetByAuth0ID(ctx context.Context, auth0ID string) (Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, getByAuth0IDQuery, auth0ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

const getByAuth0IDQuery = `SELECT * FROM accounts WHERE auth0_id = $1`

// Create inserts an account for an Auth0 subject with an opening credit grant. Creating an
// account that already exists returns the existing row.
func (r *Repository) Create(ctx context.Context, auth0ID, email, name string, grant decimal.Decimal) (Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a, createQuery, auth0ID, email, name, grant)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetByAuth0ID(ctx, auth0ID)
	}
	return a, err
}

const createQuery = `
INSERT INTO accounts (auth0_id, email, name, credits)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
ON CONFLICT (auth0_id) DO NOTHING
RETURNING *
`

// Ledger applies signed credit deltas to account balances. Each mutation is a single
// conditional statement on the caller's transaction; balances are never written back from a
// value read earlier.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Debit removes amount from the account if, and only if, the balance covers it.
func (l *Ledger) Debit(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q, &balance, debitQuery, userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return l.missingOrShort(ctx, q, userID)
	}
	return err
}

const debitQuery = `UPDATE accounts SET credits = credits - $2 WHERE id = $1 AND credits >= $2 RETURNING credits`

// Credit adds amount to the account.
func (l *Ledger) Credit(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q, &balance, creditQuery, userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const creditQuery = `UPDATE accounts SET credits = credits + $2 WHERE id = $1 RETURNING credits`

func (l *Ledger) missingOrShort(ctx context.Context, q sqlx.ExtContext, userID int64) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, existsQuery, userID); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInsufficientFunds
}

const existsQuery = `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`
