package permissions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Cache.Enabled)
	assert.True(t, opts.Cache.CacheRoles)
	assert.True(t, opts.Cache.CachePermissions)
	assert.Equal(t, time.Hour, opts.Cache.TTL)
	assert.Equal(t, "saeedvir_permissions", opts.Cache.KeyPrefix)
	assert.Equal(t, FlushFallbackPrefix, opts.Cache.FlushFallback)

	assert.False(t, opts.Guards.Enabled)
	assert.Equal(t, "web", opts.Guards.Default)
	assert.False(t, opts.Wildcard.Enabled)
	assert.False(t, opts.SuperAdmin.Enabled)
	assert.Equal(t, "super-admin", opts.SuperAdmin.RoleSlug)
	assert.False(t, opts.ExpirableRoles.Enabled)
	assert.False(t, opts.ExpirablePermissions.Enabled)

	assert.True(t, opts.Performance.EagerLoading)
	assert.Equal(t, 1000, opts.Performance.ChunkSize)
	assert.True(t, opts.Performance.UseTransactions)

	assert.Equal(t, ResponseRedirect, opts.Middleware.Unauthenticated.Type)
	assert.Equal(t, "/login", opts.Middleware.Unauthenticated.RedirectTo)
	assert.Equal(t, ResponseJSON, opts.Middleware.Unauthorized.Type)
	assert.Equal(t, 403, opts.Middleware.Unauthorized.AbortCode)

	assert.True(t, opts.Gate.Enabled)
	assert.True(t, opts.Gate.BeforeCallback)
}

func TestLoadOptionsFromEnv(t *testing.T) {
	t.Setenv("PERMISSION_CACHE_KEY_PREFIX", "acme_perms")
	t.Setenv("PERMISSION_CACHE_EXPIRATION", "15m")
	t.Setenv("PERMISSION_WILDCARD_ENABLED", "true")
	t.Setenv("PERMISSION_SUPER_ADMIN_ENABLED", "true")
	t.Setenv("PERMISSION_SUPER_ADMIN_SLUG", "owner")

	opts, err := LoadOptions()
	require.NoError(t, err)
	assert.Equal(t, "acme_perms", opts.Cache.KeyPrefix)
	assert.Equal(t, 15*time.Minute, opts.Cache.TTL)
	assert.True(t, opts.Wildcard.Enabled)
	assert.True(t, opts.SuperAdmin.Enabled)
	assert.Equal(t, "owner", opts.SuperAdmin.RoleSlug)
}

func TestGuardSelection(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, "", opts.guard("api"), "scoping disabled ignores the explicit guard")

	opts.Guards.Enabled = true
	assert.Equal(t, "api", opts.guard("api"))
	assert.Equal(t, "web", opts.guard(""))
}
