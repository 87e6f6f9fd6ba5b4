package access

import (
	"context"
	"strings"
	"time"
)

// Identity is a login record: who the user is and which role and unit they
// hold. MemberID links it to the member document it describes.
type Identity struct {
	UID          string
	MemberID     string
	FirstName    string
	Surname      string
	Rank         string
	Unit         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// IdentityStore persists identity records keyed by UID.
type IdentityStore interface {
	GetIdentity(ctx context.Context, uid string) (*Identity, error)
	FindIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	SaveIdentity(ctx context.Context, id Identity) error
	DeleteIdentity(ctx context.Context, uid string) error
}

// Session is the caller of a ledger or roster operation. It is resolved once
// per request from the identity store and passed explicitly to every call.
type Session struct {
	UID       string
	MemberID  string
	Role      Role
	Unit      string
	TokenID   string
	ExpiresAt time.Time
}

// NewSession captures the role and unit of an identity.
func NewSession(id Identity, tokenID string, expiresAt time.Time) Session {
	return Session{
		UID:       id.UID,
		MemberID:  id.MemberID,
		Role:      id.Role,
		Unit:      id.Unit,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
	}
}

func (s Session) Can(c Capability) bool { return s.Role.Can(c) }

// SameUnit compares units case-insensitively.
func (s Session) SameUnit(unit string) bool {
	return s.Unit != "" && strings.EqualFold(strings.TrimSpace(s.Unit), strings.TrimSpace(unit))
}

// ManagesMess reports whether the session's role covers members of mess.
func (s Session) ManagesMess(mess Mess) bool {
	if s.Can(CapViewAll) {
		return true
	}
	return s.Role.IsExecutive() && s.Role.Mess == mess
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
