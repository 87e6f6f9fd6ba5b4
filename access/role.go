/*
Package access defines who may do what.

PURPOSE:
  Roles are a closed set with an explicit capability table, parsed once when a
  session is resolved. Callers ask Role.Can(capability) instead of matching
  role strings at every branch.

ROLE STRINGS:
  Stored roles are free text such as "Mess Treasurer PTE". Parsing is
  case-insensitive and substring based. Executive roles carry a mess tier:
  a role mentioning "pte" runs the Privates mess, anything else the NCO mess.

SEE ALSO:
  - session.go: Session threaded into ledger and roster calls
  - token.go:   signed session tokens
*/
package access

import (
	"strings"
)

// Kind is the canonical role name.
type Kind string

const (
	KindSuperAdmin    Kind = "Super Admin"
	KindMessPresident Kind = "Mess President"
	KindMessSecretary Kind = "Mess Secretary"
	KindMessTreasurer Kind = "Mess Treasurer"
	KindUnitManager   Kind = "Unit Manager"
	KindUser          Kind = "User"
	KindTemp          Kind = "Temp"
)

// Mess is the dining tier an executive manages.
type Mess string

const (
	MessNCO      Mess = "NCO"
	MessPrivates Mess = "PTE"
)

// Capability is a bit set of permitted actions.
type Capability uint16

const (
	CapViewAll Capability = 1 << iota
	CapViewMess
	CapViewUnit
	CapViewOwn
	CapRecordPayments
	CapAddMembers
	CapApproveUsers
	CapEditAllUsers
	CapEditUnitUsers
	CapAssignSuperAdmin
)

var capabilities = map[Kind]Capability{
	KindSuperAdmin: CapViewAll | CapViewMess | CapViewUnit | CapViewOwn |
		CapRecordPayments | CapAddMembers | CapApproveUsers |
		CapEditAllUsers | CapAssignSuperAdmin,
	KindMessPresident: messExecutive,
	KindMessSecretary: messExecutive,
	KindMessTreasurer: messExecutive,
	KindUnitManager:   CapViewUnit | CapViewOwn,
	KindUser:          CapViewOwn,
	KindTemp:          0,
}

const messExecutive = CapViewMess | CapViewOwn | CapRecordPayments |
	CapAddMembers | CapApproveUsers | CapEditUnitUsers

// Role is a parsed role. Mess is only set for executives.
type Role struct {
	Kind Kind
	Mess Mess
}

var (
	RoleSuperAdmin  = Role{Kind: KindSuperAdmin}
	RoleUnitManager = Role{Kind: KindUnitManager}
	RoleUser        = Role{Kind: KindUser}
	RoleTemp        = Role{Kind: KindTemp}
)

// Executive builds a mess executive role for a tier.
func Executive(kind Kind, mess Mess) Role {
	return Role{Kind: kind, Mess: mess}
}

// order matters: "super admin" must be checked before anything that could
// appear as a substring of a longer title.
var kindMatchers = []Kind{
	KindSuperAdmin,
	KindMessPresident,
	KindMessSecretary,
	KindMessTreasurer,
	KindUnitManager,
	KindTemp,
	KindUser,
}

// ParseRole reads a stored role string. Unknown strings are rejected.
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, k := range kindMatchers {
		if !strings.Contains(norm, strings.ToLower(string(k))) {
			continue
		}
		r := Role{Kind: k}
		if r.IsExecutive() {
			r.Mess = MessNCO
			if strings.Contains(norm, "pte") {
				r.Mess = MessPrivates
			}
		}
		return r, nil
	}
	return Role{}, &UnknownRoleError{Role: s}
}

// MustParseRole is for fixtures and constants.
func MustParseRole(s string) Role {
	r, err := ParseRole(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Role) IsExecutive() bool {
	switch r.Kind {
	case KindMessPresident, KindMessSecretary, KindMessTreasurer:
		return true
	}
	return false
}

func (r Role) IsZero() bool { return r.Kind == "" }

// Can reports whether the role carries every capability in c.
func (r Role) Can(c Capability) bool {
	return capabilities[r.Kind]&c == c
}

func (r Role) String() string {
	if r.IsExecutive() && r.Mess != "" {
		return string(r.Kind) + " " + string(r.Mess)
	}
	return string(r.Kind)
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = Role{}
		return nil
	}
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Roles lists every assignable role string.
func Roles() []Role {
	return []Role{
		RoleSuperAdmin,
		Executive(KindMessPresident, MessNCO),
		Executive(KindMessSecretary, MessNCO),
		Executive(KindMessTreasurer, MessNCO),
		Executive(KindMessPresident, MessPrivates),
		Executive(KindMessSecretary, MessPrivates),
		Executive(KindMessTreasurer, MessPrivates),
		RoleUnitManager,
		RoleUser,
		RoleTemp,
	}
}

type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string { return "unknown role " + e.Role }
