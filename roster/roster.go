/*
Package roster manages login identities.

PURPOSE:
  Identity records are separate from member documents: an identity is a login
  (email, password hash, role, unit) and links to a member by service number.
  Self-registration creates an identity with the provisional Temp role; an
  approver promotes it to User, and administrators edit roles from there.

SESSION LIFECYCLE:
  Login   verify credentials, sign a token
  Resolve verify the token, reload the identity so role changes apply at once
  Logout  revoke the token id until it would have expired

RULES:
  ListUsers   Super Admin all; executives their own mess tier; unit managers
              their own unit (read only)
  Approve     Temp -> User, by anyone who may approve and can see the user
  UpdateUser  Super Admin any user; executives users of their own unit only
  DeleteUser  same as UpdateUser
  Only a Super Admin may grant the Super Admin role or edit a Super Admin.
*/
package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
	"go.uber.org/zap"
)

type Service struct {
	identities access.IdentityStore
	tokens     *access.TokenIssuer
	log        *zap.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(identities access.IdentityStore, tokens *access.TokenIssuer, opts ...Option) *Service {
	s := &Service{
		identities: identities,
		tokens:     tokens,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// REGISTRATION & SESSIONS
// =============================================================================

// Registration is the self-service sign-up form.
type Registration struct {
	ArmyNo    string `json:"armyNo" validate:"required"`
	Rank      string `json:"rank" validate:"required"`
	FirstName string `json:"firstName" validate:"required"`
	Surname   string `json:"surname" validate:"required"`
	Unit      string `json:"unit" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
}

// Register creates a Temp identity awaiting approval.
func (s *Service) Register(ctx context.Context, in Registration) (*access.Identity, error) {
	if err := subs.ValidateStruct(in); err != nil {
		return nil, err
	}
	if _, err := subs.CategoryOf(in.Rank); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	existing, err := s.identities.FindIdentityByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return nil, &subs.ValidationError{Field: "email", Reason: "already registered"}
	case err != nil && !subs.IsNotFound(err):
		return nil, err
	}

	hash, err := access.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	id := access.Identity{
		UID:          uuid.NewString(),
		MemberID:     strings.TrimSpace(in.ArmyNo),
		FirstName:    strings.TrimSpace(in.FirstName),
		Surname:      strings.TrimSpace(in.Surname),
		Rank:         strings.TrimSpace(in.Rank),
		Unit:         strings.TrimSpace(in.Unit),
		Email:        email,
		PasswordHash: hash,
		Role:         access.RoleTemp,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.identities.SaveIdentity(ctx, id); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("uid", id.UID), zap.String("member_id", id.MemberID))
	return &id, nil
}

// Login checks credentials and opens a session. Unknown emails and wrong
// passwords both return access.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, access.Session, error) {
	id, err := s.identities.FindIdentityByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if subs.IsNotFound(err) {
			return "", access.Session{}, access.ErrInvalidCredentials
		}
		return "", access.Session{}, err
	}
	if !access.CheckPassword(id.PasswordHash, password) {
		s.log.Warn("login rejected", zap.String("uid", id.UID))
		return "", access.Session{}, access.ErrInvalidCredentials
	}
	token, sess, err := s.tokens.Issue(*id)
	if err != nil {
		return "", access.Session{}, err
	}
	s.log.Info("session opened", zap.String("uid", id.UID), zap.String("role", id.Role.String()))
	return token, sess, nil
}

// Resolve turns a bearer token into a session carrying the identity's
// current role and unit.
func (s *Service) Resolve(ctx context.Context, token string) (access.Session, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return access.Session{}, err
	}
	id, err := s.identities.GetIdentity(ctx, claims.Subject)
	if err != nil {
		if subs.IsNotFound(err) {
			return access.Session{}, access.ErrInvalidToken
		}
		return access.Session{}, err
	}
	return access.NewSession(*id, claims.ID, claims.ExpiresAt.Time), nil
}

func (s *Service) Logout(ctx context.Context, sess access.Session) error {
	if err := s.tokens.Revoke(ctx, sess); err != nil {
		return err
	}
	s.log.Info("session closed", zap.String("uid", sess.UID))
	return nil
}

// Me returns the caller's own identity.
func (s *Service) Me(ctx context.Context, sess access.Session) (*access.Identity, error) {
	return s.identities.GetIdentity(ctx, sess.UID)
}

// =============================================================================
// LISTING
// =============================================================================

type Tab string

const (
	TabNew Tab = "new"
	TabAll Tab = "all"
)

func ParseTab(s string) (Tab, error) {
	switch Tab(strings.ToLower(strings.TrimSpace(s))) {
	case "", TabAll:
		return TabAll, nil
	case TabNew:
		return TabNew, nil
	}
	return "", &subs.ValidationError{Field: "tab", Reason: "must be one of: new all"}
}

// canSee reports whether the session may see an identity in the admin list.
func canSee(sess access.Session, id *access.Identity) bool {
	switch {
	case sess.Can(access.CapViewAll):
		return true
	case sess.Can(access.CapViewMess) && sess.ManagesMess(subs.Classify(id.Rank).Mess()):
		return true
	case sess.Can(access.CapViewUnit) && sess.SameUnit(id.Unit):
		return true
	}
	return false
}

func canListUsers(sess access.Session) bool {
	return sess.Can(access.CapViewAll) || sess.Can(access.CapViewMess) || sess.Can(access.CapViewUnit)
}

// ListUsers returns visible identities. TabNew is pending (Temp) users only,
// TabAll is everybody else.
func (s *Service) ListUsers(ctx context.Context, sess access.Session, tab Tab) ([]access.Identity, error) {
	if !canListUsers(sess) {
		return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "list users"}
	}
	all, err := s.identities.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]access.Identity, 0, len(all))
	for i := range all {
		id := &all[i]
		pending := id.Role.Kind == access.KindTemp
		if (tab == TabNew) != pending || !canSee(sess, id) {
			continue
		}
		out = append(out, *id)
	}
	return out, nil
}

// PendingCount is the number of visible users awaiting approval.
func (s *Service) PendingCount(ctx context.Context, sess access.Session) (int, error) {
	pending, err := s.ListUsers(ctx, sess, TabNew)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

// Approve promotes a pending user to User.
func (s *Service) Approve(ctx context.Context, sess access.Session, uid string) (*access.Identity, error) {
	id, err := s.identities.GetIdentity(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !sess.Can(access.CapApproveUsers) || !canSee(sess, id) {
		return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "approve " + uid}
	}
	if id.Role.Kind != access.KindTemp {
		return nil, &subs.ValidationError{Field: "role", Reason: "user is not awaiting approval"}
	}
	id.Role = access.RoleUser
	if err := s.identities.SaveIdentity(ctx, *id); err != nil {
		return nil, err
	}
	s.log.Info("user approved", zap.String("uid", uid), zap.String("by", sess.UID))
	return id, nil
}

// UserPatch holds the editable identity fields. Nil fields are unchanged.
type UserPatch struct {
	FirstName *string `json:"firstName,omitempty" validate:"omitempty,min=1"`
	Surname   *string `json:"surname,omitempty" validate:"omitempty,min=1"`
	Rank      *string `json:"rank,omitempty"`
	Unit      *string `json:"unit,omitempty" validate:"omitempty,min=1"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	Role      *string `json:"role,omitempty"`
}

// canModify is the edit/delete rule shared by UpdateUser and DeleteUser.
func canModify(sess access.Session, target *access.Identity) bool {
	if target.Role.Kind == access.KindSuperAdmin && !sess.Can(access.CapAssignSuperAdmin) {
		return false
	}
	if sess.Can(access.CapEditAllUsers) {
		return true
	}
	return sess.Can(access.CapEditUnitUsers) && sess.SameUnit(target.Unit)
}

func (s *Service) UpdateUser(ctx context.Context, sess access.Session, uid string, patch UserPatch) (*access.Identity, error) {
	if err := subs.ValidateStruct(patch); err != nil {
		return nil, err
	}
	id, err := s.identities.GetIdentity(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !canModify(sess, id) {
		return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "edit user " + uid}
	}

	if patch.Role != nil {
		role, err := access.ParseRole(*patch.Role)
		if err != nil {
			return nil, &subs.ValidationError{Field: "role", Reason: err.Error()}
		}
		if role.Kind == access.KindSuperAdmin && !sess.Can(access.CapAssignSuperAdmin) {
			return nil, &subs.AuthorizationError{Role: sess.Role.String(), Action: "assign the Super Admin role"}
		}
		id.Role = role
	}
	if patch.Rank != nil {
		if _, err := subs.CategoryOf(*patch.Rank); err != nil {
			return nil, err
		}
		id.Rank = strings.TrimSpace(*patch.Rank)
	}
	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		other, err := s.identities.FindIdentityByEmail(ctx, email)
		if err == nil && other.UID != id.UID {
			return nil, &subs.ValidationError{Field: "email", Reason: "already registered"}
		}
		if err != nil && !subs.IsNotFound(err) {
			return nil, err
		}
		id.Email = email
	}
	setString(&id.FirstName, patch.FirstName)
	setString(&id.Surname, patch.Surname)
	setString(&id.Unit, patch.Unit)

	if err := s.identities.SaveIdentity(ctx, *id); err != nil {
		return nil, err
	}
	s.log.Info("user updated",
		zap.String("uid", uid),
		zap.String("role", id.Role.String()),
		zap.String("unit", id.Unit),
		zap.String("by", sess.UID),
	)
	return id, nil
}

func (s *Service) DeleteUser(ctx context.Context, sess access.Session, uid string) error {
	id, err := s.identities.GetIdentity(ctx, uid)
	if err != nil {
		return err
	}
	if !canModify(sess, id) {
		return &subs.AuthorizationError{Role: sess.Role.String(), Action: "delete user " + uid}
	}
	if err := s.identities.DeleteIdentity(ctx, uid); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.String("uid", uid), zap.String("by", sess.UID))
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// IsSessionError reports errors that mean the caller has no valid session.
func IsSessionError(err error) bool {
	return errors.Is(err, access.ErrInvalidToken) ||
		errors.Is(err, access.ErrExpiredToken) ||
		errors.Is(err, access.ErrRevokedToken) ||
		errors.Is(err, access.ErrInvalidCredentials)
}
