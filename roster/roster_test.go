package roster_test

import (
	"context"
	"testing"
	"time"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/roster"
	"github.com/messmate/subs-engine/subs"
	"github.com/messmate/subs-engine/subs/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*roster.Service, *store.Memory) {
	mem := store.NewMemory()
	tokens := access.NewTokenIssuer("test-secret", "mess-test", time.Hour, mem)
	return roster.New(mem, tokens), mem
}

func registration(armyNo, email, rank, unit string) roster.Registration {
	return roster.Registration{
		ArmyNo:    armyNo,
		Rank:      rank,
		FirstName: "First",
		Surname:   "Last " + armyNo,
		Unit:      unit,
		Email:     email,
		Password:  "secret123",
	}
}

func putIdentity(t *testing.T, mem *store.Memory, uid, rank, unit string, role access.Role) access.Identity {
	t.Helper()
	id := access.Identity{UID: uid, MemberID: uid, Surname: uid, Rank: rank, Unit: unit, Email: uid + "@mess.test", Role: role}
	require.NoError(t, mem.SaveIdentity(context.Background(), id))
	return id
}

func sessionFor(id access.Identity) access.Session {
	return access.NewSession(id, "", time.Time{})
}

// =============================================================================
// REGISTRATION & LOGIN
// =============================================================================

func TestRegister_CreatesTempIdentity(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, registration("A1001", "John@Mess.test", "Cpl", "1 Bn"))
	require.NoError(t, err)
	assert.NotEmpty(t, id.UID)
	assert.Equal(t, access.RoleTemp, id.Role)
	assert.Equal(t, "john@mess.test", id.Email)
	assert.NotEqual(t, "secret123", id.PasswordHash)

	stored, err := mem.GetIdentity(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "A1001", stored.MemberID)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		mod   func(*roster.Registration)
		field string
	}{
		{"missing army number", func(r *roster.Registration) { r.ArmyNo = "" }, "armyNo"},
		{"bad email", func(r *roster.Registration) { r.Email = "nope" }, "email"},
		{"short password", func(r *roster.Registration) { r.Password = "123" }, "password"},
		{"unknown rank", func(r *roster.Registration) { r.Rank = "Admiral" }, "rank"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := registration("A1", "a1@mess.test", "Sgt", "1 Bn")
			tt.mod(&in)
			_, err := svc.Register(ctx, in)
			var verr *subs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRegister_DuplicateEmailRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, registration("A1", "dup@mess.test", "Sgt", "1 Bn"))
	require.NoError(t, err)
	_, err = svc.Register(ctx, registration("A2", "DUP@mess.test", "Sgt", "1 Bn"))
	assert.ErrorIs(t, err, subs.ErrValidation)
}

func TestLoginResolveLogout(t *testing.T) {
	// GIVEN: A registered user
	// WHEN: Logging in, resolving the token, and logging out
	// THEN: The session reflects the stored role; after logout the token is dead

	svc, mem := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, registration("A1", "a1@mess.test", "Sgt", "1 Bn"))
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "a1@mess.test", "wrong-password")
	assert.ErrorIs(t, err, access.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@mess.test", "secret123")
	assert.ErrorIs(t, err, access.ErrInvalidCredentials)

	token, sess, err := svc.Login(ctx, "a1@mess.test", "secret123")
	require.NoError(t, err)
	assert.Equal(t, access.RoleTemp, sess.Role)

	// Role changes apply to existing tokens.
	stored, err := mem.GetIdentity(ctx, id.UID)
	require.NoError(t, err)
	stored.Role = access.RoleUser
	require.NoError(t, mem.SaveIdentity(ctx, *stored))

	resolved, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, access.RoleUser, resolved.Role)
	assert.Equal(t, "1 Bn", resolved.Unit)

	require.NoError(t, svc.Logout(ctx, resolved))
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, access.ErrRevokedToken)
	assert.True(t, roster.IsSessionError(err))
}

func TestResolve_DeletedIdentityInvalidatesToken(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, registration("A1", "a1@mess.test", "Sgt", "1 Bn"))
	require.NoError(t, err)
	token, _, err := svc.Login(ctx, "a1@mess.test", "secret123")
	require.NoError(t, err)

	require.NoError(t, mem.DeleteIdentity(ctx, id.UID))
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, access.ErrInvalidToken)
}

// =============================================================================
// LISTING
// =============================================================================

func TestListUsers_ScopedBySession(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	admin := putIdentity(t, mem, "admin", "Sgt Maj", "HQ", access.RoleSuperAdmin)
	ncoExec := putIdentity(t, mem, "nco-exec", "Sgt", "1 Bn", access.Executive(access.KindMessPresident, access.MessNCO))
	mgr := putIdentity(t, mem, "mgr", "Sgt", "2 Bn", access.RoleUnitManager)
	putIdentity(t, mem, "pte-new", "PTE", "2 Bn", access.RoleTemp)
	putIdentity(t, mem, "cpl-new", "Cpl", "1 Bn", access.RoleTemp)
	putIdentity(t, mem, "gnr", "Gnr", "1 Bn", access.RoleUser)
	user := putIdentity(t, mem, "user", "Cpl", "1 Bn", access.RoleUser)

	uids := func(ids []access.Identity) []string {
		out := []string{}
		for _, id := range ids {
			out = append(out, id.UID)
		}
		return out
	}

	pending, err := svc.ListUsers(ctx, sessionFor(admin), roster.TabNew)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pte-new", "cpl-new"}, uids(pending))

	all, err := svc.ListUsers(ctx, sessionFor(admin), roster.TabAll)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	nco, err := svc.ListUsers(ctx, sessionFor(ncoExec), roster.TabAll)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "nco-exec", "mgr", "user"}, uids(nco))

	unit, err := svc.ListUsers(ctx, sessionFor(mgr), roster.TabNew)
	require.NoError(t, err)
	assert.Equal(t, []string{"pte-new"}, uids(unit))

	count, err := svc.PendingCount(ctx, sessionFor(ncoExec))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.ListUsers(ctx, sessionFor(user), roster.TabAll)
	assert.ErrorIs(t, err, subs.ErrUnauthorized)
}

func TestParseTab(t *testing.T) {
	tab, err := roster.ParseTab("")
	require.NoError(t, err)
	assert.Equal(t, roster.TabAll, tab)

	tab, err = roster.ParseTab("NEW")
	require.NoError(t, err)
	assert.Equal(t, roster.TabNew, tab)

	_, err = roster.ParseTab("archived")
	assert.Error(t, err)
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

func TestApprove(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	pteExec := putIdentity(t, mem, "pte-exec", "PTE", "1 Bn", access.Executive(access.KindMessSecretary, access.MessPrivates))
	mgr := putIdentity(t, mem, "mgr", "Sgt", "1 Bn", access.RoleUnitManager)
	putIdentity(t, mem, "new-pte", "Trp", "3 Bn", access.RoleTemp)
	putIdentity(t, mem, "new-sgt", "Sgt", "1 Bn", access.RoleTemp)

	_, err := svc.Approve(ctx, sessionFor(mgr), "new-sgt")
	assert.ErrorIs(t, err, subs.ErrUnauthorized, "unit manager is read only")

	_, err = svc.Approve(ctx, sessionFor(pteExec), "new-sgt")
	assert.ErrorIs(t, err, subs.ErrUnauthorized, "other mess tier")

	id, err := svc.Approve(ctx, sessionFor(pteExec), "new-pte")
	require.NoError(t, err)
	assert.Equal(t, access.RoleUser, id.Role)

	_, err = svc.Approve(ctx, sessionFor(pteExec), "new-pte")
	assert.ErrorIs(t, err, subs.ErrValidation, "already approved")

	_, err = svc.Approve(ctx, sessionFor(pteExec), "ghost")
	assert.True(t, subs.IsNotFound(err))
}

func TestUpdateUser_RoleAssignmentRules(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	admin := putIdentity(t, mem, "admin", "Sgt Maj", "HQ", access.RoleSuperAdmin)
	exec := putIdentity(t, mem, "exec", "Sgt", "1 Bn", access.Executive(access.KindMessTreasurer, access.MessNCO))
	putIdentity(t, mem, "same-unit", "Cpl", "1 Bn", access.RoleUser)
	putIdentity(t, mem, "other-unit", "Cpl", "2 Bn", access.RoleUser)
	putIdentity(t, mem, "boss", "Sgt Maj", "1 Bn", access.RoleSuperAdmin)

	treasurer := "Mess Treasurer"
	superAdmin := "Super Admin"

	id, err := svc.UpdateUser(ctx, sessionFor(exec), "same-unit", roster.UserPatch{Role: &treasurer})
	require.NoError(t, err)
	assert.Equal(t, access.Executive(access.KindMessTreasurer, access.MessNCO), id.Role)

	_, err = svc.UpdateUser(ctx, sessionFor(exec), "other-unit", roster.UserPatch{Role: &treasurer})
	assert.ErrorIs(t, err, subs.ErrUnauthorized, "outside own unit")

	_, err = svc.UpdateUser(ctx, sessionFor(exec), "same-unit", roster.UserPatch{Role: &superAdmin})
	assert.ErrorIs(t, err, subs.ErrUnauthorized, "only super admin grants super admin")

	_, err = svc.UpdateUser(ctx, sessionFor(exec), "boss", roster.UserPatch{Role: &treasurer})
	assert.ErrorIs(t, err, subs.ErrUnauthorized, "cannot demote a super admin")

	id, err = svc.UpdateUser(ctx, sessionFor(admin), "other-unit", roster.UserPatch{Role: &superAdmin})
	require.NoError(t, err)
	assert.Equal(t, access.RoleSuperAdmin, id.Role)
}

func TestUpdateUser_Fields(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	admin := putIdentity(t, mem, "admin", "Sgt Maj", "HQ", access.RoleSuperAdmin)
	putIdentity(t, mem, "u1", "Cpl", "1 Bn", access.RoleUser)
	putIdentity(t, mem, "u2", "Cpl", "1 Bn", access.RoleUser)

	rank, unit := "Sgt", " 2 Bn "
	id, err := svc.UpdateUser(ctx, sessionFor(admin), "u1", roster.UserPatch{Rank: &rank, Unit: &unit})
	require.NoError(t, err)
	assert.Equal(t, "Sgt", id.Rank)
	assert.Equal(t, "2 Bn", id.Unit)

	bad := "Brigadier"
	_, err = svc.UpdateUser(ctx, sessionFor(admin), "u1", roster.UserPatch{Rank: &bad})
	assert.ErrorIs(t, err, subs.ErrValidation)

	taken := "u2@mess.test"
	_, err = svc.UpdateUser(ctx, sessionFor(admin), "u1", roster.UserPatch{Email: &taken})
	assert.ErrorIs(t, err, subs.ErrValidation)

	role := "Quartermaster"
	_, err = svc.UpdateUser(ctx, sessionFor(admin), "u1", roster.UserPatch{Role: &role})
	assert.ErrorIs(t, err, subs.ErrValidation)
}

func TestDeleteUser(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	exec := putIdentity(t, mem, "exec", "PTE", "1 Bn", access.Executive(access.KindMessPresident, access.MessPrivates))
	mgr := putIdentity(t, mem, "mgr", "Sgt", "1 Bn", access.RoleUnitManager)
	putIdentity(t, mem, "victim", "Gnr", "1 Bn", access.RoleUser)

	err := svc.DeleteUser(ctx, sessionFor(mgr), "victim")
	assert.ErrorIs(t, err, subs.ErrUnauthorized)

	require.NoError(t, svc.DeleteUser(ctx, sessionFor(exec), "victim"))
	_, err = mem.GetIdentity(ctx, "victim")
	assert.True(t, subs.IsNotFound(err))

	err = svc.DeleteUser(ctx, sessionFor(exec), "victim")
	assert.True(t, subs.IsNotFound(err))
}
