/*
Package ledger records mess subscription payments.

PURPOSE:
  The Ledger is the write side of the subscription engine. Each operation is
  a read-modify-write of one member document:

    1. validate the request locally (nothing is read on bad input)
    2. load the member            -> NotFoundError
    3. authorize the session      -> AuthorizationError
    4. mutate a private copy of the fee map
    5. recompute status via subs.DeriveStatus
    6. write the whole fee map back

  A failed write is returned unchanged. The caller never sees derived state
  for a mutation that was not persisted.

OPERATIONS:
  RecordPayment  append a payment, status becomes Partial or Paid
  ToggleOverseas flip a year between Overseas and Due (twice restores)
  DeletePayment  remove one payment by index
  AddMember      create a member document with a tracked fee history

  Reads (Statement, Roster) live in view.go.

CONCURRENCY:
  No locking. Two concurrent writers on the same member can lose an update.
  Mutations on different members are independent.
*/
package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the Payment Ledger Mutator.
type Ledger struct {
	members subs.MemberStore
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithClock fixes "now", which decides the current year and payment dates.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.now = now
		}
	}
}

func New(members subs.MemberStore, opts ...Option) *Ledger {
	l := &Ledger{
		members: members,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CurrentYear is the year dues are not yet owed for.
func (l *Ledger) CurrentYear() int { return l.now().Year() }

// =============================================================================
// RECORD PAYMENT
// =============================================================================

// PaymentRequest is one real payment event. Calling RecordPayment twice with
// the same request records two payments.
type PaymentRequest struct {
	MemberID subs.MemberID
	Year     int
	Amount   decimal.Decimal
	Method   subs.Method
	Overseas bool
}

func (r PaymentRequest) validate() error {
	if !r.Amount.IsPositive() {
		return &subs.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if _, err := subs.ParseMethod(string(r.Method)); err != nil {
		return err
	}
	return nil
}

// RecordPayment appends a payment dated today and recomputes the year status.
// Overseas on the request marks the year as overseas; an overseas year stays
// overseas when a payment without the flag is recorded.
func (l *Ledger) RecordPayment(ctx context.Context, sess access.Session, req PaymentRequest) (*subs.YearRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	method, _ := subs.ParseMethod(string(req.Method))

	member, category, err := l.loadForWrite(ctx, sess, req.MemberID, "record payments")
	if err != nil {
		return nil, err
	}
	if err := l.checkYear(member, req.Year); err != nil {
		return nil, err
	}

	fees := editableFees(member)
	rec := yearRecord(fees, req.Year)
	if req.Overseas || rec.IsOverseas() {
		rec.Overseas = true
	}
	rec.Payments = append(rec.Payments, subs.Payment{
		Amount: req.Amount,
		Method: method,
		Date:   subs.DateOf(l.now()),
	})

	due, err := subs.DefaultSchedule.Amount(category, req.Year, rec.IsOverseas())
	if err != nil {
		return nil, err
	}
	rec.Status = subs.DeriveStatus(rec, due)

	if err := l.persist(ctx, member.ID, fees, "record payment"); err != nil {
		return nil, err
	}
	l.log.Info("payment recorded",
		zap.String("member_id", string(member.ID)),
		zap.Int("year", req.Year),
		zap.String("amount", req.Amount.String()),
		zap.String("method", string(method)),
		zap.String("status", string(rec.Status)),
		zap.String("by", sess.UID),
	)
	return rec.Clone(), nil
}

// =============================================================================
// TOGGLE OVERSEAS
// =============================================================================

// ToggleOverseas flips the overseas flag for a year, creating the record if
// needed, and returns the updated fee map. Payments are not touched. With no
// payments the status moves between Due and Overseas. With payments the
// stored status is kept, so two toggles always restore the original state.
// A legacy Overseas status on a year that has payments is replaced by the
// derived Partial or Paid when the flag is cleared.
func (l *Ledger) ToggleOverseas(ctx context.Context, sess access.Session, id subs.MemberID, year int) (subs.Fees, error) {
	member, category, err := l.loadForWrite(ctx, sess, id, "mark members overseas")
	if err != nil {
		return nil, err
	}
	if err := l.checkYear(member, year); err != nil {
		return nil, err
	}

	fees := editableFees(member)
	rec := yearRecord(fees, year)
	rec.Overseas = !rec.IsOverseas()
	switch {
	case len(rec.Payments) == 0 && rec.Overseas:
		rec.Status = subs.StatusOverseas
	case len(rec.Payments) == 0:
		rec.Status = subs.StatusDue
	case rec.Status == subs.StatusOverseas:
		due, err := subs.DefaultSchedule.Amount(category, year, rec.Overseas)
		if err != nil {
			return nil, err
		}
		rec.Status = subs.DeriveStatus(&subs.YearRecord{Payments: rec.Payments}, due)
	}

	if err := l.persist(ctx, member.ID, fees, "toggle overseas"); err != nil {
		return nil, err
	}
	l.log.Info("overseas toggled",
		zap.String("member_id", string(member.ID)),
		zap.Int("year", year),
		zap.Bool("overseas", rec.Overseas),
		zap.String("status", string(rec.Status)),
		zap.String("by", sess.UID),
	)
	return fees.Clone(), nil
}

// =============================================================================
// DELETE PAYMENT
// =============================================================================

// DeletePayment removes the payment at index; later payments shift down by
// one. Status is only recomputed when the list becomes empty. Removing one of
// several payments leaves the previous status in place.
//
// Removing the last payment of a year resets it to Due, except when the year
// carries the overseas flag: it then returns to Overseas, the state the year
// had before anything was paid, and stays billed at half rate.
//
// TODO: recompute status after a partial removal once the treasurers confirm
// that a Paid year should fall back to Partial.
func (l *Ledger) DeletePayment(ctx context.Context, sess access.Session, id subs.MemberID, year, index int) (*subs.YearRecord, error) {
	member, category, err := l.loadForWrite(ctx, sess, id, "delete payments")
	if err != nil {
		return nil, err
	}

	fees := editableFees(member)
	rec, ok := fees[year]
	if !ok || rec == nil {
		return nil, &subs.NotFoundError{Kind: subs.KindYearRecord, Key: string(id) + "/" + strconv.Itoa(year)}
	}
	if index < 0 || index >= len(rec.Payments) {
		return nil, &subs.NotFoundError{Kind: subs.KindPayment, Key: string(id) + "/" + strconv.Itoa(year) + "/" + strconv.Itoa(index)}
	}

	removed := rec.Payments[index]
	rec.Payments = append(rec.Payments[:index:index], rec.Payments[index+1:]...)
	if len(rec.Payments) == 0 {
		due, err := subs.DefaultSchedule.Amount(category, year, rec.IsOverseas())
		if err != nil {
			return nil, err
		}
		rec.Status = subs.DeriveStatus(rec, due)
	}

	if err := l.persist(ctx, member.ID, fees, "delete payment"); err != nil {
		return nil, err
	}
	l.log.Info("payment deleted",
		zap.String("member_id", string(member.ID)),
		zap.Int("year", year),
		zap.Int("index", index),
		zap.String("amount", removed.Amount.String()),
		zap.String("status", string(rec.Status)),
		zap.String("by", sess.UID),
	)
	return rec.Clone(), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadForWrite loads the member and checks the session may change its ledger.
func (l *Ledger) loadForWrite(ctx context.Context, sess access.Session, id subs.MemberID, action string) (*subs.Member, subs.Category, error) {
	member, err := l.members.GetMember(ctx, id)
	if err != nil {
		return nil, "", err
	}
	category, err := subs.CategoryOf(member.Rank)
	if err != nil {
		return nil, "", err
	}
	if !sess.Can(access.CapRecordPayments) || !sess.ManagesMess(category.Mess()) {
		return nil, "", &subs.AuthorizationError{Role: sess.Role.String(), Action: action + " for " + string(id)}
	}
	return member, category, nil
}

// checkYear keeps fee keys inside [start year, current year].
func (l *Ledger) checkYear(m *subs.Member, year int) error {
	if year < m.StartYear() {
		return &subs.ValidationError{Field: "year", Reason: "before membership start " + strconv.Itoa(m.StartYear())}
	}
	if year > l.CurrentYear() {
		return &subs.ValidationError{Field: "year", Reason: "in the future"}
	}
	return nil
}

func (l *Ledger) persist(ctx context.Context, id subs.MemberID, fees subs.Fees, op string) error {
	if err := l.members.UpdateFees(ctx, id, fees); err != nil {
		l.log.Error("ledger write failed",
			zap.String("op", op),
			zap.String("member_id", string(id)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// editableFees returns a private copy of the member's fees, creating the map
// on first use.
func editableFees(m *subs.Member) subs.Fees {
	fees := m.Fees.Clone()
	if fees == nil {
		fees = make(subs.Fees)
	}
	return fees
}

func yearRecord(fees subs.Fees, year int) *subs.YearRecord {
	rec, ok := fees[year]
	if !ok || rec == nil {
		rec = &subs.YearRecord{Status: subs.StatusDue, Payments: []subs.Payment{}}
		fees[year] = rec
	}
	return rec
}
