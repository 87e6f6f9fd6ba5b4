/*
Package subs provides the mess subscription engine.

PURPOSE:
  This package holds the rules that decide, for a member and a year, how much
  is owed, which years are exempt, and how recorded payments roll up into a
  status. Everything here is pure computation over the data model; persistence
  and authorization live in other packages.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member:     identity fields plus a per-year fee map
  - YearRecord: payments and flags for a single membership year
  - Payment:    one real payment event (amount, method, date)
  - Status:     Due / Partial / Paid / Overseas

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Append-only payments: entries are appended, removed by position, never edited
  3. Status is denormalized: DeriveStatus is the one place it is computed

SEE ALSO:
  - rank.go:      Rank Classifier
  - schedule.go:  Fee Schedule
  - exemption.go: Exemption Rule
  - aggregate.go: Ledger Aggregator
*/
package subs

import (
	"sort"
	"strings"
	"time"

	"github.com/messmate/subs-engine/access"
	"github.com/shopspring/decimal"
)

// EpochYear is the founding year of the mess. No dues accrue before it.
const EpochYear = 2012

// =============================================================================
// IDENTIFIERS
// =============================================================================

// MemberID is the service number (Army No.) used as the record key.
type MemberID string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDue      Status = "Due"
	StatusPartial  Status = "Partial"
	StatusPaid     Status = "Paid"
	StatusOverseas Status = "Overseas"
)

// ParseStatus accepts stored status strings case-insensitively.
// An empty string is a year nobody has touched yet, which is Due.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "due":
		return StatusDue, nil
	case "partial":
		return StatusPartial, nil
	case "paid":
		return StatusPaid, nil
	case "overseas":
		return StatusOverseas, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown status " + s}
}

// UnmarshalText normalises stored statuses, so documents written with the
// old lowercase values still decode and anything else is rejected.
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// =============================================================================
// PAYMENT
// =============================================================================

type Method string

const (
	MethodCash         Method = "Cash"
	MethodBankTransfer Method = "Bank Transfer"
	MethodOther        Method = "Other"
)

// ParseMethod defaults to Cash, matching the payment form.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cash":
		return MethodCash, nil
	case "bank transfer", "bank_transfer", "bank":
		return MethodBankTransfer, nil
	case "other":
		return MethodOther, nil
	}
	return "", &ValidationError{Field: "method", Reason: "unknown payment method " + s}
}

type Payment struct {
	Amount decimal.Decimal `json:"amount"`
	Method Method          `json:"method"`
	Date   Date            `json:"date"`
}

// =============================================================================
// YEAR RECORD
// =============================================================================

// YearRecord is the fee sub-record for one member and one year.
type YearRecord struct {
	Status   Status    `json:"status"`
	Payments []Payment `json:"payments"`

	// Overseas marks the year as billed at half rate. Status alone cannot carry
	// it once payments move the status to Partial or Paid.
	Overseas bool `json:"overseas,omitempty"`

	// PromotedDate inside this year excludes the year from accumulation.
	PromotedDate *Date `json:"promotedDate,omitempty"`

	// JoinedDate overrides Member.JoinedDate for the exemption check.
	JoinedDate *Date `json:"joinedDate,omitempty"`
}

// IsOverseas reports whether the year is billed at the overseas rate.
func (r *YearRecord) IsOverseas() bool {
	if r == nil {
		return false
	}
	return r.Overseas || r.Status == StatusOverseas
}

// Paid sums all recorded payments.
func (r *YearRecord) Paid() decimal.Decimal {
	total := decimal.Zero
	if r == nil {
		return total
	}
	for _, p := range r.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *YearRecord) Clone() *YearRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payments != nil {
		c.Payments = make([]Payment, len(r.Payments))
		copy(c.Payments, r.Payments)
	}
	if r.PromotedDate != nil {
		d := *r.PromotedDate
		c.PromotedDate = &d
	}
	if r.JoinedDate != nil {
		d := *r.JoinedDate
		c.JoinedDate = &d
	}
	return &c
}

// Fees maps a year to its record. A nil map means the member has no fee
// history at all; an empty map is a tracked history with nothing recorded.
type Fees map[int]*YearRecord

func (f Fees) Clone() Fees {
	if f == nil {
		return nil
	}
	c := make(Fees, len(f))
	for y, r := range f {
		c[y] = r.Clone()
	}
	return c
}

// Years returns the recorded years in ascending order.
func (f Fees) Years() []int {
	years := make([]int, 0, len(f))
	for y := range f {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// =============================================================================
// MEMBER
// =============================================================================

type Member struct {
	ID         MemberID
	FirstName  string
	Surname    string
	Rank       string
	Unit       string
	Email      string
	JoinedDate *Date
	Role       access.Role
	Fees       Fees
	CreatedAt  time.Time
}

func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.Surname)
}

// StartYear is the first year dues can accrue for the member.
func (m *Member) StartYear() int {
	if m.JoinedDate == nil || m.JoinedDate.Year() < EpochYear {
		return EpochYear
	}
	return m.JoinedDate.Year()
}

// Clone returns a deep copy of the member including its fee map.
func (m Member) Clone() Member {
	c := m
	if m.JoinedDate != nil {
		d := *m.JoinedDate
		c.JoinedDate = &d
	}
	c.Fees = m.Fees.Clone()
	return c
}
