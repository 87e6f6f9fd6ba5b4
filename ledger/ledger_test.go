package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/ledger"
	"github.com/messmate/subs-engine/subs"
	"github.com/messmate/subs-engine/subs/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var today = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

var (
	admin     = access.Session{UID: "admin", Role: access.RoleSuperAdmin}
	ncoExec   = access.Session{UID: "nco-exec", Role: access.Executive(access.KindMessTreasurer, access.MessNCO), Unit: "1 Bn"}
	pteExec   = access.Session{UID: "pte-exec", Role: access.Executive(access.KindMessTreasurer, access.MessPrivates), Unit: "1 Bn"}
	manager   = access.Session{UID: "mgr", Role: access.RoleUnitManager, Unit: "1 Bn"}
	plainUser = access.Session{UID: "user", MemberID: "A1001", Role: access.RoleUser, Unit: "1 Bn"}
)

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	mem := store.NewMemory()
	l := ledger.New(mem, ledger.WithClock(func() time.Time { return today }))
	return l, mem
}

func joined(y int, m time.Month, d int) *subs.Date {
	v := subs.NewDate(y, m, d)
	return &v
}

func seed(t *testing.T, mem *store.Memory, m subs.Member) {
	t.Helper()
	if m.Fees == nil {
		m.Fees = subs.Fees{}
	}
	require.NoError(t, mem.CreateMember(context.Background(), m))
}

func corporal() subs.Member {
	return subs.Member{ID: "A1001", FirstName: "John", Surname: "Mensah", Rank: "Cpl", Unit: "1 Bn", JoinedDate: joined(2020, time.May, 1)}
}

func private() subs.Member {
	return subs.Member{ID: "B2002", FirstName: "Kofi", Surname: "Asante", Rank: "PTE", Unit: "2 Bn", JoinedDate: joined(2021, time.February, 1)}
}

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func fees(t *testing.T, mem *store.Memory, id subs.MemberID) subs.Fees {
	t.Helper()
	m, err := mem.GetMember(context.Background(), id)
	require.NoError(t, err)
	return m.Fees
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

func TestRecordPayment_PartialThenPaid(t *testing.T) {
	// GIVEN: Cpl with nothing recorded for 2022
	// WHEN: 12 then 8 are recorded
	// THEN: Status goes Partial then Paid and the total drops to 60

	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	rec, err := l.RecordPayment(ctx, ncoExec, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(12)})
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPartial, rec.Status)
	require.Len(t, rec.Payments, 1)
	assert.Equal(t, subs.MethodCash, rec.Payments[0].Method)
	assert.Equal(t, "2024-06-15", rec.Payments[0].Date.String())

	st, err := l.Statement(ctx, ncoExec, "A1001")
	require.NoError(t, err)
	assert.True(t, amt(68).Equal(st.Statement.TotalOwed), "got %s", st.Statement.TotalOwed)

	rec, err = l.RecordPayment(ctx, ncoExec, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(8), Method: subs.MethodBankTransfer})
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPaid, rec.Status)
	assert.Len(t, rec.Payments, 2)

	stored := fees(t, mem, "A1001")[2022]
	assert.Equal(t, subs.StatusPaid, stored.Status)
	assert.Len(t, stored.Payments, 2)
}

func TestRecordPayment_SameRequestTwiceAppendsTwice(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	req := ledger.PaymentRequest{MemberID: "A1001", Year: 2021, Amount: amt(5)}

	_, err := l.RecordPayment(context.Background(), admin, req)
	require.NoError(t, err)
	rec, err := l.RecordPayment(context.Background(), admin, req)
	require.NoError(t, err)

	assert.Len(t, rec.Payments, 2)
	assert.True(t, amt(10).Equal(rec.Paid()))
}

func TestRecordPayment_NonPositiveAmountRejectedWithoutMutation(t *testing.T) {
	// GIVEN: A member with no 2022 record
	// WHEN: Recording 0 or a negative amount
	// THEN: ValidationError, and the stored fee map is unchanged

	l, mem := newTestLedger(t)
	seed(t, mem, corporal())

	for _, v := range []int64{0, -5} {
		_, err := l.RecordPayment(context.Background(), admin, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(v)})
		var verr *subs.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "amount", verr.Field)
	}
	assert.Empty(t, fees(t, mem, "A1001"))
}

func TestRecordPayment_BadAmountCheckedBeforeLookup(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.RecordPayment(context.Background(), admin, ledger.PaymentRequest{MemberID: "ghost", Year: 2022, Amount: amt(0)})
	assert.ErrorIs(t, err, subs.ErrValidation)
}

func TestRecordPayment_OverseasPrivatePaidWithFive(t *testing.T) {
	// GIVEN: Private marked overseas for 2022
	// WHEN: A single payment of 5 is recorded
	// THEN: The year is Paid and the overseas flag is kept

	l, mem := newTestLedger(t)
	seed(t, mem, private())
	ctx := context.Background()

	f, err := l.ToggleOverseas(ctx, pteExec, "B2002", 2022)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusOverseas, f[2022].Status)

	rec, err := l.RecordPayment(ctx, pteExec, ledger.PaymentRequest{MemberID: "B2002", Year: 2022, Amount: amt(5)})
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPaid, rec.Status)
	assert.True(t, rec.Overseas)
}

func TestRecordPayment_OverseasFlagOnRequest(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, private())

	rec, err := l.RecordPayment(context.Background(), admin, ledger.PaymentRequest{MemberID: "B2002", Year: 2023, Amount: amt(5), Overseas: true})
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPaid, rec.Status)
	assert.True(t, rec.IsOverseas())
}

func TestRecordPayment_YearOutsideMembership(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())

	for _, y := range []int{2019, 2025} {
		_, err := l.RecordPayment(context.Background(), admin, ledger.PaymentRequest{MemberID: "A1001", Year: y, Amount: amt(20)})
		var verr *subs.ValidationError
		require.ErrorAs(t, err, &verr, "year %d", y)
		assert.Equal(t, "year", verr.Field)
	}
}

func TestRecordPayment_UnknownMember(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.RecordPayment(context.Background(), admin, ledger.PaymentRequest{MemberID: "ghost", Year: 2022, Amount: amt(20)})
	var nf *subs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, subs.KindMember, nf.Kind)
}

func TestRecordPayment_Authorization(t *testing.T) {
	// GIVEN: An NCO member
	// THEN: Super Admin and the NCO executive may record; the Privates
	//       executive, unit manager and plain user may not

	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	req := ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(1)}

	for _, s := range []access.Session{admin, ncoExec} {
		_, err := l.RecordPayment(context.Background(), s, req)
		assert.NoError(t, err, s.Role.String())
	}
	for _, s := range []access.Session{pteExec, manager, plainUser, {Role: access.RoleTemp}} {
		_, err := l.RecordPayment(context.Background(), s, req)
		assert.ErrorIs(t, err, subs.ErrUnauthorized, s.Role.String())
	}
	assert.Len(t, fees(t, mem, "A1001")[2022].Payments, 2)
}

func TestRecordPayment_StoreFailureSurfacedUnchanged(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	boom := errors.New("disk unavailable")
	mem.FailWith = boom

	_, err := l.RecordPayment(context.Background(), admin, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(20)})
	var serr *subs.StoreError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, subs.ErrStore)
	assert.ErrorIs(t, err, boom)

	mem.FailWith = nil
	assert.Empty(t, fees(t, mem, "A1001"))
}

// =============================================================================
// TOGGLE OVERSEAS
// =============================================================================

func TestToggleOverseas_TwiceRestoresStatus(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	f, err := l.ToggleOverseas(ctx, admin, "A1001", 2021)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusOverseas, f[2021].Status)
	assert.Empty(t, f[2021].Payments)

	f, err = l.ToggleOverseas(ctx, admin, "A1001", 2021)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusDue, f[2021].Status)
	assert.False(t, f[2021].Overseas)
}

func TestToggleOverseas_TwiceRestoresPaidStatus(t *testing.T) {
	// GIVEN: 2022 paid in full at 10 by a private
	// WHEN: Overseas is toggled on and off
	// THEN: Payments are untouched and status ends as Paid again

	l, mem := newTestLedger(t)
	seed(t, mem, private())
	ctx := context.Background()

	_, err := l.RecordPayment(ctx, admin, ledger.PaymentRequest{MemberID: "B2002", Year: 2022, Amount: amt(10)})
	require.NoError(t, err)

	f, err := l.ToggleOverseas(ctx, admin, "B2002", 2022)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPaid, f[2022].Status)
	assert.True(t, f[2022].Overseas)

	f, err = l.ToggleOverseas(ctx, admin, "B2002", 2022)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPaid, f[2022].Status)
	assert.Len(t, f[2022].Payments, 1)
}

func TestToggleOverseas_TwiceAfterPartialDeleteKeepsStatus(t *testing.T) {
	// GIVEN: 2022 paid 10 then 5 (Paid), then the first payment removed,
	// which leaves the stored status at Paid with 5 on the books
	// WHEN: Overseas is toggled on and off
	// THEN: The stored status is untouched both times

	l, mem := newTestLedger(t)
	seed(t, mem, private())
	ctx := context.Background()

	for _, v := range []int64{10, 5} {
		_, err := l.RecordPayment(ctx, admin, ledger.PaymentRequest{MemberID: "B2002", Year: 2022, Amount: amt(v)})
		require.NoError(t, err)
	}
	rec, err := l.DeletePayment(ctx, admin, "B2002", 2022, 0)
	require.NoError(t, err)
	require.Equal(t, subs.StatusPaid, rec.Status)

	f, err := l.ToggleOverseas(ctx, admin, "B2002", 2022)
	require.NoError(t, err)
	assert.True(t, f[2022].Overseas)
	assert.Equal(t, subs.StatusPaid, f[2022].Status)

	f, err = l.ToggleOverseas(ctx, admin, "B2002", 2022)
	require.NoError(t, err)
	assert.False(t, f[2022].Overseas)
	assert.Equal(t, subs.StatusPaid, f[2022].Status)
	require.Len(t, f[2022].Payments, 1)
	assert.True(t, amt(5).Equal(f[2022].Payments[0].Amount))
}

func TestToggleOverseas_LegacyOverseasStatusWithPayments(t *testing.T) {
	// GIVEN: an old record with status Overseas and a payment of 5
	l, mem := newTestLedger(t)
	m := private()
	m.Fees = subs.Fees{2022: {Status: subs.StatusOverseas, Payments: []subs.Payment{{Amount: amt(5), Method: subs.MethodCash}}}}
	seed(t, mem, m)
	ctx := context.Background()

	// WHEN: the overseas state is cleared
	f, err := l.ToggleOverseas(ctx, admin, "B2002", 2022)
	require.NoError(t, err)

	// THEN: the year is billed in full and the status follows the payments
	assert.False(t, f[2022].IsOverseas())
	assert.Equal(t, subs.StatusPartial, f[2022].Status)
}

func TestToggleOverseas_HalvesOwed(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	_, err := l.ToggleOverseas(ctx, admin, "A1001", 2023)
	require.NoError(t, err)

	st, err := l.Statement(ctx, admin, "A1001")
	require.NoError(t, err)
	assert.True(t, amt(70).Equal(st.Statement.TotalOwed), "got %s", st.Statement.TotalOwed)
}

func TestToggleOverseas_UnitManagerRejected(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())

	_, err := l.ToggleOverseas(context.Background(), manager, "A1001", 2021)
	assert.True(t, subs.IsUnauthorized(err))
}

// =============================================================================
// DELETE PAYMENT
// =============================================================================

func TestDeletePayment_OnlyPaymentResetsToDue(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	_, err := l.RecordPayment(ctx, admin, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(20)})
	require.NoError(t, err)

	rec, err := l.DeletePayment(ctx, admin, "A1001", 2022, 0)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusDue, rec.Status)
	assert.Empty(t, rec.Payments)
	assert.Equal(t, subs.StatusDue, fees(t, mem, "A1001")[2022].Status)
}

func TestDeletePayment_OneOfSeveralKeepsStatusAndShifts(t *testing.T) {
	// GIVEN: Three payments 5, 7, 8 (Paid)
	// WHEN: The middle one is deleted
	// THEN: Status stays Paid and the remaining order is 5, 8

	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	for _, v := range []int64{5, 7, 8} {
		_, err := l.RecordPayment(ctx, admin, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(v)})
		require.NoError(t, err)
	}

	rec, err := l.DeletePayment(ctx, admin, "A1001", 2022, 1)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusPaid, rec.Status)
	require.Len(t, rec.Payments, 2)
	assert.True(t, amt(5).Equal(rec.Payments[0].Amount))
	assert.True(t, amt(8).Equal(rec.Payments[1].Amount))
}

func TestDeletePayment_OverseasYearFallsBackToOverseas(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, private())
	ctx := context.Background()

	_, err := l.RecordPayment(ctx, admin, ledger.PaymentRequest{MemberID: "B2002", Year: 2022, Amount: amt(5), Overseas: true})
	require.NoError(t, err)

	rec, err := l.DeletePayment(ctx, admin, "B2002", 2022, 0)
	require.NoError(t, err)
	assert.Equal(t, subs.StatusOverseas, rec.Status)
	assert.True(t, rec.Overseas)

	st, err := l.Statement(ctx, admin, "B2002")
	require.NoError(t, err)
	assert.True(t, amt(5).Equal(st.Statement.Years[1].Owed), "2022 stays at half rate")
}

func TestDeletePayment_ToggledOnlyYearReportsMissingPayment(t *testing.T) {
	// GIVEN: 2022 exists only because it was marked overseas
	l, mem := newTestLedger(t)
	seed(t, mem, private())
	ctx := context.Background()

	_, err := l.ToggleOverseas(ctx, admin, "B2002", 2022)
	require.NoError(t, err)

	// WHEN: payment 0 is deleted
	_, err = l.DeletePayment(ctx, admin, "B2002", 2022, 0)

	// THEN: the year is found, the payment is not
	var nf *subs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, subs.KindPayment, nf.Kind)
}

func TestDeletePayment_NotFound(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	_, err := l.DeletePayment(ctx, admin, "ghost", 2022, 0)
	var nf *subs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, subs.KindMember, nf.Kind)

	_, err = l.DeletePayment(ctx, admin, "A1001", 2022, 0)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, subs.KindYearRecord, nf.Kind)

	_, err = l.RecordPayment(ctx, admin, ledger.PaymentRequest{MemberID: "A1001", Year: 2022, Amount: amt(5)})
	require.NoError(t, err)

	for _, idx := range []int{1, -1} {
		_, err = l.DeletePayment(ctx, admin, "A1001", 2022, idx)
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, subs.KindPayment, nf.Kind)
	}
	assert.Len(t, fees(t, mem, "A1001")[2022].Payments, 1)
}

// =============================================================================
// READS
// =============================================================================

func TestStatement_VisibilityAndBreakdown(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	ctx := context.Background()

	st, err := l.Statement(ctx, plainUser, "A1001")
	require.NoError(t, err)
	assert.Equal(t, 2020, st.Statement.StartYear)
	assert.Equal(t, 2023, st.Statement.EndYear)
	assert.Len(t, st.Statement.Years, 4)
	assert.Equal(t, []int{2020, 2021, 2022, 2023}, st.PayableYears)
	assert.True(t, amt(80).Equal(st.Statement.TotalOwed))

	_, err = l.Statement(ctx, pteExec, "A1001")
	assert.ErrorIs(t, err, subs.ErrUnauthorized)

	_, err = l.Statement(ctx, manager, "A1001")
	assert.NoError(t, err)
}

func TestRoster_ScopedBySession(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	seed(t, mem, private())
	seed(t, mem, subs.Member{ID: "C3003", Surname: "Boateng", Rank: "Sgt", Unit: "2 Bn", JoinedDate: joined(2023, time.March, 1)})
	ctx := context.Background()

	ids := func(entries []ledger.RosterEntry) []subs.MemberID {
		out := make([]subs.MemberID, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Member.ID)
		}
		return out
	}

	all, err := l.Roster(ctx, admin, "")
	require.NoError(t, err)
	assert.Equal(t, []subs.MemberID{"B2002", "C3003", "A1001"}, ids(all))

	nco, err := l.Roster(ctx, ncoExec, "")
	require.NoError(t, err)
	assert.Equal(t, []subs.MemberID{"C3003", "A1001"}, ids(nco))

	unit, err := l.Roster(ctx, access.Session{Role: access.RoleUnitManager, Unit: "2 Bn"}, "")
	require.NoError(t, err)
	assert.Equal(t, []subs.MemberID{"B2002", "C3003"}, ids(unit))

	own, err := l.Roster(ctx, plainUser, "")
	require.NoError(t, err)
	assert.Equal(t, []subs.MemberID{"A1001"}, ids(own))
	assert.True(t, amt(80).Equal(own[0].TotalOwed))

	_, err = l.Roster(ctx, access.Session{Role: access.RoleTemp}, "")
	assert.ErrorIs(t, err, subs.ErrUnauthorized)
}

func TestRoster_Search(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, corporal())
	seed(t, mem, private())

	got, err := l.Roster(context.Background(), admin, "mens")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, subs.MemberID("A1001"), got[0].Member.ID)

	got, err = l.Roster(context.Background(), admin, "b20")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, subs.MemberID("B2002"), got[0].Member.ID)
}

func TestRoster_UnknownRankReportedNotFatal(t *testing.T) {
	l, mem := newTestLedger(t)
	seed(t, mem, subs.Member{ID: "X1", Surname: "Legacy", Rank: "Major", Unit: "1 Bn", JoinedDate: joined(2019, time.January, 1)})

	got, err := l.Roster(context.Background(), admin, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].Problem)
	assert.True(t, got[0].TotalOwed.IsZero())
}

// =============================================================================
// ADD MEMBER
// =============================================================================

func TestAddMember(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()
	in := ledger.NewMember{ID: "D4004", FirstName: "Ama", Surname: "Owusu", Rank: "Gnr", Unit: "3 Bn", JoinedDate: "2022-11-10"}

	_, err := l.AddMember(ctx, ncoExec, in)
	assert.ErrorIs(t, err, subs.ErrUnauthorized, "NCO executive cannot add privates")

	m, err := l.AddMember(ctx, pteExec, in)
	require.NoError(t, err)
	assert.NotNil(t, m.Fees)
	assert.Equal(t, 2022, m.StartYear())

	st, err := l.Statement(ctx, pteExec, "D4004")
	require.NoError(t, err)
	assert.True(t, amt(10).Equal(st.Statement.TotalOwed), "2022 exempt, 2023 owed")

	_, err = l.AddMember(ctx, admin, in)
	assert.ErrorIs(t, err, subs.ErrValidation, "duplicate id")

	stored, err := mem.GetMember(ctx, "D4004")
	require.NoError(t, err)
	assert.Equal(t, "Owusu", stored.Surname)
}

func TestAddMember_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	base := ledger.NewMember{ID: "E1", FirstName: "A", Surname: "B", Rank: "Sgt", Unit: "1 Bn", JoinedDate: "2020-01-01"}

	missing := base
	missing.Unit = ""
	_, err := l.AddMember(ctx, admin, missing)
	var verr *subs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unit", verr.Field)

	badRank := base
	badRank.Rank = "General"
	_, err = l.AddMember(ctx, admin, badRank)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "rank", verr.Field)

	badDate := base
	badDate.JoinedDate = "yesterday"
	_, err = l.AddMember(ctx, admin, badDate)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "joinedDate", verr.Field)
}
