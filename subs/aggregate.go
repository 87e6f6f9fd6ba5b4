/*
aggregate.go - Ledger Aggregator

PURPOSE:
  Combines rank category, exemption, promotion grace and the fee schedule over
  a member's whole membership span to produce what is currently owed.

ALGORITHM:
  startYear = max(year(joinedDate) or 2012, 2012)
  endYear   = currentYear - 1      (dues are only for completed years)

  for each year y in [startYear, endYear]:
    1. record = fees[y] or empty
    2. joined = record.JoinedDate or member.JoinedDate
    3. exempt(joined, y) and y == startYear -> skip
    4. promoted during y                    -> skip
    5. due = schedule(category, overseas(record)); owed += max(due - paid, 0)

  Exemption is only honoured at the start year. It is an onboarding rule, not a
  general amnesty, even though IsExempt could match later years.

  A member with no fee history (nil Fees) owes 0.
*/
package subs

import "github.com/shopspring/decimal"

// YearLine is one year of a member statement.
type YearLine struct {
	Year     int
	Status   Status
	Due      decimal.Decimal
	Paid     decimal.Decimal
	Owed     decimal.Decimal
	Overseas bool
	Exempt   bool
	Promoted bool
	Payments []Payment
}

// Statement is the per-year breakdown behind TotalOwed.
type Statement struct {
	MemberID  MemberID
	Category  Category
	StartYear int
	EndYear   int
	Years     []YearLine
	TotalOwed decimal.Decimal
}

// TotalOwed returns the amount owed across all completed years before
// currentYear. It fails only on an unknown rank.
func TotalOwed(m *Member, currentYear int) (decimal.Decimal, error) {
	st, err := BuildStatement(m, currentYear)
	if err != nil {
		return decimal.Zero, err
	}
	return st.TotalOwed, nil
}

// BuildStatement evaluates every year in the member's span.
func BuildStatement(m *Member, currentYear int) (Statement, error) {
	st := Statement{
		MemberID:  m.ID,
		StartYear: m.StartYear(),
		EndYear:   currentYear - 1,
		TotalOwed: decimal.Zero,
	}
	if m.Fees == nil {
		st.Category = Classify(m.Rank)
		return st, nil
	}

	category, err := CategoryOf(m.Rank)
	if err != nil {
		return st, err
	}
	st.Category = category

	for y := st.StartYear; y <= st.EndYear; y++ {
		line, err := evaluateYear(m, category, y, st.StartYear)
		if err != nil {
			return st, err
		}
		st.TotalOwed = st.TotalOwed.Add(line.Owed)
		st.Years = append(st.Years, line)
	}
	return st, nil
}

func evaluateYear(m *Member, category Category, year, startYear int) (YearLine, error) {
	rec := m.Fees[year]
	line := YearLine{
		Year:     year,
		Status:   StatusDue,
		Due:      decimal.Zero,
		Paid:     rec.Paid(),
		Owed:     decimal.Zero,
		Overseas: rec.IsOverseas(),
	}
	if rec != nil {
		if rec.Status != "" {
			line.Status = rec.Status
		}
		line.Payments = append([]Payment(nil), rec.Payments...)
	}

	if exemptYear(m, year, startYear) {
		line.Exempt = true
		return line, nil
	}
	if rec != nil && rec.PromotedDate != nil && rec.PromotedDate.InYear(year) {
		line.Promoted = true
		return line, nil
	}

	due, err := DefaultSchedule.Amount(category, year, line.Overseas)
	if err != nil {
		return line, err
	}
	line.Due = due
	if line.Paid.LessThan(due) {
		line.Owed = due.Sub(line.Paid)
	}
	return line, nil
}

// exemptYear applies the exemption with the year's own joined-date override.
// Only the start year can be exempt.
func exemptYear(m *Member, year, startYear int) bool {
	if year != startYear {
		return false
	}
	joined := m.JoinedDate
	if rec := m.Fees[year]; rec != nil && rec.JoinedDate != nil {
		joined = rec.JoinedDate
	}
	return IsExempt(joined, year)
}

// PayableYears lists the completed years a payment can be entered for,
// leaving out the years a statement marks exempt. It also covers members
// with no fee history yet.
func PayableYears(m *Member, currentYear int) []int {
	var years []int
	start := m.StartYear()
	for y := start; y < currentYear; y++ {
		if exemptYear(m, y, start) {
			continue
		}
		years = append(years, y)
	}
	return years
}

// DeriveStatus is the single authoritative status computation for a year.
// With no payments the year is Due, or Overseas when flagged; otherwise it is
// Paid once payments reach due and Partial before that.
func DeriveStatus(rec *YearRecord, due decimal.Decimal) Status {
	if rec == nil || len(rec.Payments) == 0 {
		if rec.IsOverseas() {
			return StatusOverseas
		}
		return StatusDue
	}
	if rec.Paid().GreaterThanOrEqual(due) {
		return StatusPaid
	}
	return StatusPartial
}
