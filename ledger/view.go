package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// VISIBILITY
// =============================================================================

// CanView reports whether the session may see a member's ledger.
//
//	Super Admin     every member
//	Mess Executive  members whose rank falls in the executive's mess
//	Unit Manager    members of the manager's unit
//	User            only the member record linked to the login
func CanView(sess access.Session, m *subs.Member) bool {
	switch {
	case sess.Can(access.CapViewAll):
		return true
	case sess.Can(access.CapViewMess) && sess.ManagesMess(subs.Classify(m.Rank).Mess()):
		return true
	case sess.Can(access.CapViewUnit) && sess.SameUnit(m.Unit):
		return true
	case sess.Can(access.CapViewOwn) && sess.MemberID != "" && sess.MemberID == string(m.ID):
		return true
	}
	return false
}

// =============================================================================
// STATEMENT
// =============================================================================

// MemberStatement is a member with the per-year breakdown behind its total.
type MemberStatement struct {
	Member       subs.Member
	Statement    subs.Statement
	PayableYears []int
}

// Statement returns the breakdown for one member. A member the session may
// not see is reported as an AuthorizationError, not NotFound.
func (l *Ledger) Statement(ctx context.Context, sess access.Session, id subs.MemberID) (*MemberStatement, error) {
	member, err := l.members.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(sess, member) {
		return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "view member " + string(id)}
	}
	year := l.CurrentYear()
	st, err := subs.BuildStatement(member, year)
	if err != nil {
		return nil, err
	}
	return &MemberStatement{
		Member:       *member,
		Statement:    st,
		PayableYears: subs.PayableYears(member, year),
	}, nil
}

// =============================================================================
// ROSTER
// =============================================================================

// RosterEntry is one visible member with what they owe.
type RosterEntry struct {
	Member    subs.Member
	Category  subs.Category
	TotalOwed decimal.Decimal

	// Problem is set when the total could not be computed, e.g. an unknown
	// rank carried over from old records.
	Problem string
}

// Roster lists the members visible to the session, filtered by a
// case-insensitive match on member id or surname. Entries are ordered by
// surname, then id.
func (l *Ledger) Roster(ctx context.Context, sess access.Session, query string) ([]RosterEntry, error) {
	if sess.Role.IsZero() || !sess.Can(access.CapViewOwn) {
		return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "view the mess roster"}
	}
	members, err := l.members.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	year := l.CurrentYear()
	entries := make([]RosterEntry, 0, len(members))
	for i := range members {
		m := &members[i]
		if !CanView(sess, m) || !matches(m, q) {
			continue
		}
		entry := RosterEntry{Member: *m, Category: subs.Classify(m.Rank), TotalOwed: decimal.Zero}
		total, err := subs.TotalOwed(m, year)
		if err != nil {
			entry.Problem = err.Error()
		} else {
			entry.TotalOwed = total
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Member, entries[j].Member
		if !strings.EqualFold(a.Surname, b.Surname) {
			return strings.ToLower(a.Surname) < strings.ToLower(b.Surname)
		}
		return a.ID < b.ID
	})
	return entries, nil
}

func matches(m *subs.Member, q string) bool {
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(string(m.ID)), q) ||
		strings.Contains(strings.ToLower(m.Surname), q)
}

// =============================================================================
// ADD MEMBER
// =============================================================================

// NewMember is the input for AddMember. Every field except Email is required.
type NewMember struct {
	ID         string `json:"armyNo" validate:"required"`
	FirstName  string `json:"firstName" validate:"required"`
	Surname    string `json:"surname" validate:"required"`
	Rank       string `json:"rank" validate:"required"`
	Unit       string `json:"unit" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	JoinedDate string `json:"joinedDate" validate:"required"`
}

// AddMember creates a member document with an empty, tracked fee history.
// Executives may only add members of their own mess.
func (l *Ledger) AddMember(ctx context.Context, sess access.Session, in NewMember) (*subs.Member, error) {
	if err := subs.ValidateStruct(in); err != nil {
		return nil, err
	}
	category, err := subs.CategoryOf(in.Rank)
	if err != nil {
		return nil, err
	}
	joined, err := subs.ParseDate(in.JoinedDate)
	if err != nil {
		return nil, &subs.ValidationError{Field: "joinedDate", Reason: "expected YYYY-MM-DD"}
	}
	if !sess.Can(access.CapAddMembers) || !sess.ManagesMess(category.Mess()) {
		return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "add " + string(category) + " members"}
	}

	member := subs.Member{
		ID:         subs.MemberID(strings.TrimSpace(in.ID)),
		FirstName:  strings.TrimSpace(in.FirstName),
		Surname:    strings.TrimSpace(in.Surname),
		Rank:       strings.TrimSpace(in.Rank),
		Unit:       strings.TrimSpace(in.Unit),
		Email:      strings.TrimSpace(in.Email),
		JoinedDate: &joined,
		Fees:       subs.Fees{},
		CreatedAt:  l.now().UTC(),
	}
	if err := l.members.CreateMember(ctx, member); err != nil {
		if !subs.IsClientError(err) {
			l.log.Error("add member failed", zap.String("member_id", string(member.ID)), zap.Error(err))
		}
		return nil, err
	}
	l.log.Info("member added",
		zap.String("member_id", string(member.ID)),
		zap.String("rank", member.Rank),
		zap.String("unit", member.Unit),
		zap.String("by", sess.UID),
	)
	return &member, nil
}
