package account

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CreditPlaces is the number of decimal places credit columns store.
const CreditPlaces = 2

var ErrTooPrecise = fmt.Errorf("credit amounts have at most %d decimal places", CreditPlaces)

// Account is the subset of a user relevant to booking and settlement. Credits are only ever
// changed through Ledger.
type Account struct {
	ID        int64           `db:"id"`
	Auth0ID   string          `db:"auth0_id"`
	Email     sql.NullString  `db:"email"`
	Name      sql.NullString  `db:"name"`
	Credits   decimal.Decimal `db:"credits"`
	CreatedAt time.Time       `db:"created_at"`
}

// CheckPrecision rejects amounts the credit columns would round. Trailing zeros are fine.
func CheckPrecision(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(CreditPlaces)) {
		return fmt.Errorf("%w: %s", ErrTooPrecise, amount)
	}
	return nil
}
