package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateHookAllowsPermissionHolder(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, DefaultOptions())
	user := testUser("u1")

	_, err := svc.FindOrCreatePermission(ctx, "posts.read")
	require.NoError(t, err)
	require.NoError(t, svc.GivePermissionTo(ctx, user, "posts.read"))

	gate := svc.Gate()
	assert.Equal(t, Allow, gate(ctx, user, "posts.read"))
	assert.Equal(t, Abstain, gate(ctx, user, "posts.write"))
}

func TestGateHookAllowsSuperAdmin(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.SuperAdmin.Enabled = true
	svc, _, _ := newTestService(t, opts)
	root := testUser("root")

	_, err := svc.FindOrCreateRole(ctx, "super-admin")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, root, "super-admin"))

	gate := svc.Gate()
	assert.Equal(t, Allow, gate(ctx, root, "anything.at.all"))
}

func TestGateHookAbstainsWhenDisabled(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Gate.Enabled = false
	svc, _, _ := newTestService(t, opts)
	user := testUser("u1")

	_, err := svc.FindOrCreatePermission(ctx, "posts.read")
	require.NoError(t, err)
	require.NoError(t, svc.GivePermissionTo(ctx, user, "posts.read"))

	gate := svc.Gate()
	assert.Equal(t, Abstain, gate(ctx, user, "posts.read"))
}

func TestGateHookAbstainsWithoutPrincipal(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultOptions())
	gate := svc.Gate()
	assert.Equal(t, Abstain, gate(context.Background(), nil, "posts.read"))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "abstain", Abstain.String())
}
