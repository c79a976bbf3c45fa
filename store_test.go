package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.withDefaults()
	store := NewStore(newTestDB(t), opts)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestCreateRoleConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultOptions())

	role, err := store.CreateRole(ctx, "editor", "", "Can edit content", "")
	require.NoError(t, err)
	assert.Equal(t, "Editor", role.Name)
	assert.Equal(t, "web", role.GuardName)

	_, err = store.CreateRole(ctx, "editor", "Editor", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateRoleGuardScoping(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Guards.Enabled = true
	store := newTestStore(t, opts)

	_, err := store.CreateRole(ctx, "editor", "", "", "web")
	require.NoError(t, err)

	// Same slug under a different guard is a distinct role.
	_, err = store.CreateRole(ctx, "editor", "", "", "api")
	require.NoError(t, err)

	webRole, err := store.RoleBySlug(ctx, "editor", "web")
	require.NoError(t, err)
	apiRole, err := store.RoleBySlug(ctx, "editor", "api")
	require.NoError(t, err)
	assert.NotEqual(t, webRole.ID, apiRole.ID)
}

func TestFindOrCreatePermission(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultOptions())

	first, err := store.FindOrCreatePermission(ctx, "posts.create", "", "")
	require.NoError(t, err)
	second, err := store.FindOrCreatePermission(ctx, "posts.create", "", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveRoleRefs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultOptions())

	created, err := store.CreateRole(ctx, "admin", "", "", "")
	require.NoError(t, err)

	bySlug, err := store.ResolveRole(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySlug.ID)

	byID, err := store.ResolveRole(ctx, int(created.ID))
	require.NoError(t, err)
	assert.Equal(t, created.Slug, byID.Slug)

	byEntity, err := store.ResolveRole(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEntity.ID)

	_, err = store.ResolveRole(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ResolveRole(ctx, 3.14)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiffSets(t *testing.T) {
	diff := diffSets([]uint{1, 2, 3}, []uint{2, 3, 4, 4})
	assert.Equal(t, []uint{4}, diff.Added)
	assert.Equal(t, []uint{1}, diff.Removed)

	diff = diffSets(nil, []uint{7})
	assert.Equal(t, []uint{7}, diff.Added)
	assert.Empty(t, diff.Removed)

	diff = diffSets([]uint{5}, []uint{5})
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestReplaceRolePermissions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultOptions())

	role, err := store.CreateRole(ctx, "editor", "", "", "")
	require.NoError(t, err)
	read, err := store.CreatePermission(ctx, "posts.read", "", "", "")
	require.NoError(t, err)
	write, err := store.CreatePermission(ctx, "posts.write", "", "", "")
	require.NoError(t, err)
	del, err := store.CreatePermission(ctx, "posts.delete", "", "", "")
	require.NoError(t, err)

	diff, err := store.ReplaceRolePermissions(ctx, role.ID, []uint{read.ID, write.ID})
	require.NoError(t, err)
	assert.Len(t, diff.Added, 2)
	assert.Empty(t, diff.Removed)

	diff, err = store.ReplaceRolePermissions(ctx, role.ID, []uint{write.ID, del.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{del.ID}, diff.Added)
	assert.Equal(t, []uint{read.ID}, diff.Removed)

	slugs, err := store.RolePermissionSlugs(ctx, role.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"posts.write", "posts.delete"}, slugs)

	// Replaying the same set is a no-op.
	diff, err = store.ReplaceRolePermissions(ctx, role.ID, []uint{write.ID, del.ID})
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestActiveRolesExpiry(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.ExpirableRoles.Enabled = true
	store := newTestStore(t, opts)

	role, err := store.CreateRole(ctx, "contractor", "", "", "")
	require.NoError(t, err)
	user := testUser("u1")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)
	require.NoError(t, store.AttachRoleToPrincipal(ctx, user, role.ID, &expiry, false))

	roles, err := store.ActiveRoles(ctx, user, now)
	require.NoError(t, err)
	assert.Len(t, roles, 1)

	// A grant expiring exactly now is no longer active.
	roles, err = store.ActiveRoles(ctx, user, expiry)
	require.NoError(t, err)
	assert.Empty(t, roles)

	roles, err = store.ActiveRoles(ctx, user, expiry.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestAttachRoleReplaceExpiry(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.ExpirableRoles.Enabled = true
	store := newTestStore(t, opts)

	role, err := store.CreateRole(ctx, "contractor", "", "", "")
	require.NoError(t, err)
	user := testUser("u1")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	short := now.Add(time.Minute)
	require.NoError(t, store.AttachRoleToPrincipal(ctx, user, role.ID, &short, false))

	// Without replaceExpiry an existing grant keeps its expiry.
	long := now.Add(time.Hour)
	require.NoError(t, store.AttachRoleToPrincipal(ctx, user, role.ID, &long, false))
	roles, err := store.ActiveRoles(ctx, user, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, store.AttachRoleToPrincipal(ctx, user, role.ID, &long, true))
	roles, err = store.ActiveRoles(ctx, user, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestDeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultOptions())

	role, err := store.CreateRole(ctx, "editor", "", "", "")
	require.NoError(t, err)
	perm, err := store.CreatePermission(ctx, "posts.read", "", "", "")
	require.NoError(t, err)
	require.NoError(t, store.AttachPermissionToRole(ctx, role.ID, perm.ID))
	user := testUser("u1")
	require.NoError(t, store.AttachRoleToPrincipal(ctx, user, role.ID, nil, false))

	require.NoError(t, store.DeleteRole(ctx, role.ID))

	_, err = store.RoleBySlug(ctx, "editor", "")
	assert.ErrorIs(t, err, ErrNotFound)
	roles, err := store.ActiveRoles(ctx, user, time.Now())
	require.NoError(t, err)
	assert.Empty(t, roles)

	// The permission itself survives, only the link is gone.
	_, err = store.PermissionBySlug(ctx, "posts.read", "")
	require.NoError(t, err)
}

func TestTitleize(t *testing.T) {
	assert.Equal(t, "Create Post", titleize("create-post"))
	assert.Equal(t, "Manage Users", titleize("manage_users"))
	assert.Equal(t, "Admin", titleize("admin"))
}
