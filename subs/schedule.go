package subs

import "github.com/shopspring/decimal"

// =============================================================================
// FEE SCHEDULE
// =============================================================================

// Schedule holds the yearly base fee per category.
type Schedule struct {
	BaseFees map[Category]decimal.Decimal
}

// DefaultSchedule is the mess fee table in the mess currency unit.
var DefaultSchedule = Schedule{
	BaseFees: map[Category]decimal.Decimal{
		CategoryNCO:     decimal.NewFromInt(20),
		CategoryPrivate: decimal.NewFromInt(10),
	},
}

var two = decimal.NewFromInt(2)

// Amount returns the fee owed for a year. Overseas halves it exactly; there is
// no rounding because payments are compared against this value. Years before
// the epoch cost nothing.
func (s Schedule) Amount(c Category, year int, overseas bool) (decimal.Decimal, error) {
	base, ok := s.BaseFees[c]
	if !ok {
		return decimal.Zero, &ValidationError{Field: "rank", Reason: "no fee for category " + string(c)}
	}
	if year < EpochYear {
		return decimal.Zero, nil
	}
	if overseas {
		return base.Div(two), nil
	}
	return base, nil
}

// FeeFor classifies the rank and looks up the default schedule.
func FeeFor(rank string, year int, overseas bool) (decimal.Decimal, error) {
	c, err := CategoryOf(rank)
	if err != nil {
		return decimal.Zero, err
	}
	return DefaultSchedule.Amount(c, year, overseas)
}
