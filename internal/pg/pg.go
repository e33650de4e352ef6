// Package pg holds the PostgreSQL plumbing shared by the stores: connecting, applying the
// embedded schema, running a unit of work in one transaction and classifying driver errors.
package pg

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// ErrConflict is returned when a transaction could not get its row locks in time or was
// aborted by the server to resolve a serialization conflict. It is transient; callers decide
// whether to retry.
var ErrConflict = errors.New("conflicting concurrent update")

const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every embedded migration in lexicographic order, one transaction per file.
// Migrations are written to be re-runnable.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// Transactor runs a function inside a single database transaction. Every statement issued
// through the *sqlx.Tx handed to fn commits or rolls back together.
type Transactor struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewTransactor(db *sqlx.DB, lockTimeout time.Duration) *Transactor {
	return &Transactor{db: db, lockTimeout: lockTimeout}
}

// InTx begins a transaction, applies the configured lock wait timeout, and commits when fn
// returns nil. Any error from fn rolls the whole transaction back and is returned after
// classification with Classify.
func (t *Transactor) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	defer tx.Rollback()

	if t.lockTimeout > 0 {
		_, err = tx.ExecContext(ctx, setLockTimeoutQuery, fmt.Sprintf("%dms", t.lockTimeout.Milliseconds()))
		if err != nil {
			return Classify(err)
		}
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	return Classify(tx.Commit())
}

const setLockTimeoutQuery = `SELECT set_config('lock_timeout', $1, true)`

// Classify maps lock-wait timeouts, serialization failures and deadlocks onto ErrConflict,
// keeping the original error in the chain. Other errors pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation on the named
// constraint or index. An empty name matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
