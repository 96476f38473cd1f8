// Package hbar provides the primitive Hedera types the rest of the
// application is built on: tinybar amounts, account IDs and transaction
// IDs in both the SDK and mirror-node formats.
package hbar

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TinybarPerHbar is the number of tinybars in one HBAR.
const TinybarPerHbar = 100_000_000

// Amount is a quantity of HBAR counted in tinybars, the smallest unit
// the network settles in. All arithmetic on amounts happens in tinybars
// so that no precision is lost.
type Amount int64

var ErrInvalidAmount = errors.New("invalid hbar amount")

// NewAmount converts a floating point number of HBAR into an Amount,
// rounding to the nearest tinybar.
func NewAmount(hbars float64) (Amount, error) {
	if math.IsNaN(hbars) || math.IsInf(hbars, 0) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%v HBAR", hbars)
	}
	return Amount(math.Round(hbars * TinybarPerHbar)), nil
}

// FromTinybar wraps a raw tinybar count.
func FromTinybar(tinybar int64) Amount {
	return Amount(tinybar)
}

// Tinybar returns the raw tinybar count.
func (a Amount) Tinybar() int64 {
	return int64(a)
}

// ToHbar returns the amount as a floating point number of HBAR. Use
// Decimal for exact arithmetic.
func (a Amount) ToHbar() float64 {
	return float64(a) / TinybarPerHbar
}

// Decimal returns the amount in HBAR as an exact decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -8)
}

func (a Amount) String() string {
	return a.Decimal().String() + " HBAR"
}

// ParseAccountID validates a Hedera account ID of the form
// shard.realm.num and returns its canonical string.
func ParseAccountID(s string) (string, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", errors.Errorf("malformed account ID %q: expected shard.realm.num", s)
	}
	canonical := make([]string, 3)
	for i, part := range parts {
		num, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return "", errors.Errorf("malformed account ID %q: %q is not a number", s, part)
		}
		canonical[i] = strconv.FormatUint(num, 10)
	}
	return strings.Join(canonical, "."), nil
}
