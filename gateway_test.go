package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRolesAppliesDifference(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	editor, err := svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	admin, err := svc.FindOrCreateRole(ctx, "admin")
	require.NoError(t, err)
	auditor, err := svc.FindOrCreateRole(ctx, "auditor")
	require.NoError(t, err)

	diff, err := svc.SyncRoles(ctx, user, []any{"editor", "admin"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{editor.ID, admin.ID}, diff.Added)
	assert.Empty(t, diff.Removed)

	diff, err = svc.SyncRoles(ctx, user, []any{"admin", "auditor"})
	require.NoError(t, err)
	assert.Equal(t, []uint{auditor.ID}, diff.Added)
	assert.Equal(t, []uint{editor.ID}, diff.Removed)

	// Same desired set again: nothing to do.
	diff, err = svc.SyncRoles(ctx, user, []any{"admin", "auditor"})
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)

	ok, err := svc.HasRole(ctx, user, "editor")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.HasAllRoles(ctx, user, "admin", "auditor")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncRolesUnknownRefFailsWholeCall(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)

	_, err = svc.SyncRoles(ctx, user, []any{"editor", "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	// Nothing was applied.
	ok, err := svc.HasRole(ctx, user, "editor")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokePermissionTakesEffect(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreatePermission(ctx, "posts.read")
	require.NoError(t, err)
	require.NoError(t, svc.GivePermissionTo(ctx, user, "posts.read"))

	ok, err := svc.HasPermission(ctx, user, "posts.read")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.RevokePermissionTo(ctx, user, "posts.read"))

	// The cached verdict was invalidated with the commit.
	ok, err = svc.HasPermission(ctx, user, "posts.read")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveRoleTakesEffect(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, user, "editor"))

	ok, err := svc.HasRole(ctx, user, "editor")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.RemoveRole(ctx, user, "editor"))
	ok, err = svc.HasRole(ctx, user, "editor")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, user, "editor"))
	require.NoError(t, svc.AssignRole(ctx, user, "editor"))

	roles, err := svc.Store().ActiveRoles(ctx, user, time.Now())
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestRevokeFromRoleReachesEveryHolder(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	alice := testUser("alice")
	bob := testUser("bob")

	_, err := svc.FindOrCreatePermission(ctx, "posts.publish")
	require.NoError(t, err)
	_, err = svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.GrantToRole(ctx, "editor", "posts.publish"))
	require.NoError(t, svc.AssignRole(ctx, alice, "editor"))
	require.NoError(t, svc.AssignRole(ctx, bob, "editor"))

	// Warm both principals' caches.
	for _, p := range []Subject{alice, bob} {
		ok, err := svc.HasPermission(ctx, p, "posts.publish")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	require.NoError(t, svc.RevokeFromRole(ctx, "editor", "posts.publish"))

	for _, p := range []Subject{alice, bob} {
		ok, err := svc.HasPermission(ctx, p, "posts.publish")
		require.NoError(t, err)
		assert.False(t, ok, "holder %s still sees the revoked permission", p.ID)
	}
}

func TestSyncRolePermissions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	read, err := svc.FindOrCreatePermission(ctx, "posts.read")
	require.NoError(t, err)
	write, err := svc.FindOrCreatePermission(ctx, "posts.write")
	require.NoError(t, err)
	_, err = svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, user, "editor"))

	diff, err := svc.SyncRolePermissions(ctx, "editor", []any{"posts.read"})
	require.NoError(t, err)
	assert.Equal(t, []uint{read.ID}, diff.Added)

	ok, err := svc.HasPermission(ctx, user, "posts.read")
	require.NoError(t, err)
	assert.True(t, ok)

	diff, err = svc.SyncRolePermissions(ctx, "editor", []any{"posts.write"})
	require.NoError(t, err)
	assert.Equal(t, []uint{write.ID}, diff.Added)
	assert.Equal(t, []uint{read.ID}, diff.Removed)

	ok, err = svc.HasPermission(ctx, user, "posts.read")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.HasPermission(ctx, user, "posts.write")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRoleHasPermission(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())

	_, err := svc.FindOrCreatePermission(ctx, "posts.read")
	require.NoError(t, err)
	_, err = svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.GrantToRole(ctx, "editor", "posts.read"))

	ok, err := svc.RoleHasPermission(ctx, "editor", "posts.read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.RoleHasPermission(ctx, "editor", "posts.write")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUntilVariantsRequireExpirableGrants(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreateRole(ctx, "contractor")
	require.NoError(t, err)
	_, err = svc.FindOrCreatePermission(ctx, "reports.view")
	require.NoError(t, err)

	err = svc.AssignRoleUntil(ctx, user, "contractor", clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrConfiguration)

	err = svc.GivePermissionToUntil(ctx, user, "reports.view", clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAssignRoleUntilReplacesExpiry(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Cache.Enabled = false
	opts.ExpirableRoles.Enabled = true
	svc, _, clock := newTestService(t, opts)
	user := testUser("u1")

	_, err := svc.FindOrCreateRole(ctx, "contractor")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRoleUntil(ctx, user, "contractor", clock.Now().Add(time.Minute)))
	require.NoError(t, svc.AssignRoleUntil(ctx, user, "contractor", clock.Now().Add(time.Hour)))

	clock.Advance(30 * time.Minute)
	ok, err := svc.HasRole(ctx, user, "contractor")
	require.NoError(t, err)
	assert.True(t, ok, "re-granting extended the expiry")
}

func TestDeleteRoleRevokesEverywhere(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreatePermission(ctx, "posts.publish")
	require.NoError(t, err)
	_, err = svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.GrantToRole(ctx, "editor", "posts.publish"))
	require.NoError(t, svc.AssignRole(ctx, user, "editor"))

	ok, err := svc.HasPermission(ctx, user, "posts.publish")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.DeleteRole(ctx, "editor"))

	ok, err = svc.HasRole(ctx, user, "editor")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.HasPermission(ctx, user, "posts.publish")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePermissionRevokesEverywhere(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreatePermission(ctx, "posts.publish")
	require.NoError(t, err)
	require.NoError(t, svc.GivePermissionTo(ctx, user, "posts.publish"))

	ok, err := svc.HasPermission(ctx, user, "posts.publish")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.DeletePermission(ctx, "posts.publish"))

	perms, err := svc.GetAllPermissions(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestMutationsWithTransactionsDisabled(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Performance.UseTransactions = false
	svc, _, _ := newTestService(t, opts)
	user := testUser("u1")

	_, err := svc.FindOrCreateRole(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, user, "editor"))

	ok, err := svc.HasRole(ctx, user, "editor")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRoleConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())

	_, err := svc.CreateRole(ctx, "editor", "", "")
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, "editor", "", "")
	assert.True(t, IsConflict(err))
}
