package ledgertypes

import (
	"errors"
	"math"
	"strconv"
)

// ErrAmountOverflow is returned when summing amounts would exceed the
// maximum representable value.
var ErrAmountOverflow = errors.New("amount overflow")

// Amount is a quantity of the fungible unit backing every output. It is
// signed so that negative inputs can be detected and rejected rather than
// silently wrapping.
type Amount int64

// MaxAmount is the largest amount the ledger can hold in a single output or
// sum of outputs.
const MaxAmount = Amount(math.MaxInt64)

// String returns the amount in base units.
func (a Amount) String() string {
	return strconv.FormatInt(int64(a), 10) + " units"
}

// IsNegative returns true if the amount is below zero.
func (a Amount) IsNegative() bool {
	return a < 0
}

// SumAmounts adds the passed amounts, failing if any of them is negative or
// the running total overflows.
func SumAmounts(amts ...Amount) (Amount, error) {
	var total Amount
	for _, amt := range amts {
		if amt < 0 {
			return 0, errors.New("negative amount")
		}
		if amt > MaxAmount-total {
			return 0, ErrAmountOverflow
		}
		total += amt
	}

	return total, nil
}
