package permissions

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Resolver answers role and permission questions for a principal. It reads
// through the cache and falls back to the store; it never mutates grants
// and holds no locks, leaving get/put races to the cache backend's own
// atomicity guarantees.
type Resolver struct {
	store *Store
	cache *Cache
	opts  Options
	now   func() time.Time
	log   *zap.Logger
}

// NewResolver constructs a resolver over the given store and cache.
func NewResolver(store *Store, cache *Cache, opts Options) *Resolver {
	return &Resolver{
		store: store,
		cache: cache,
		opts:  opts,
		now:   time.Now,
		log:   zap.NewNop(),
	}
}

// roleSlugs returns the principal's active role slug set, cached when role
// caching is enabled. The expiry filter uses one instant for the whole
// call so a set can never be partially expired.
func (r *Resolver) roleSlugs(ctx context.Context, p Principal, now time.Time) ([]string, error) {
	compute := func() ([]string, error) {
		roles, err := r.store.ActiveRoles(ctx, p, now)
		if err != nil {
			return nil, err
		}
		slugs := make([]string, 0, len(roles))
		for _, role := range roles {
			slugs = append(slugs, role.Slug)
		}
		return slugs, nil
	}
	if !r.cache.RoleCacheEnabled() {
		return compute()
	}
	return remember(ctx, r.cache, r.cache.UserRolesKey(p), compute)
}

// roleSlugFor resolves a role reference to its slug. A plain string is
// taken as the slug itself without a store round-trip.
func (r *Resolver) roleSlugFor(ctx context.Context, ref any) (string, error) {
	if slug, ok := ref.(string); ok {
		return slug, nil
	}
	role, err := r.store.ResolveRole(ctx, ref)
	if err != nil {
		return "", err
	}
	return role.Slug, nil
}

// permissionSlugFor resolves a permission reference to its slug.
func (r *Resolver) permissionSlugFor(ctx context.Context, ref any) (string, error) {
	if slug, ok := ref.(string); ok {
		return slug, nil
	}
	perm, err := r.store.ResolvePermission(ctx, ref)
	if err != nil {
		return "", err
	}
	return perm.Slug, nil
}

// HasRole reports whether the principal's active role set contains the
// referenced role.
func (r *Resolver) HasRole(ctx context.Context, p Principal, ref any) (bool, error) {
	slug, err := r.roleSlugFor(ctx, ref)
	if err != nil {
		return false, err
	}
	slugs, err := r.roleSlugs(ctx, p, r.now())
	if err != nil {
		return false, err
	}
	for _, s := range slugs {
		if s == slug {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the principal holds at least one of the
// referenced roles.
func (r *Resolver) HasAnyRole(ctx context.Context, p Principal, refs ...any) (bool, error) {
	for _, ref := range refs {
		ok, err := r.HasRole(ctx, p, ref)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllRoles reports whether the principal holds every referenced role.
func (r *Resolver) HasAllRoles(ctx context.Context, p Principal, refs ...any) (bool, error) {
	for _, ref := range refs {
		ok, err := r.HasRole(ctx, p, ref)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// effectiveSlugs returns the principal's effective permission slug set:
// the union of active direct grants and the permissions of active roles,
// cached as one unit.
func (r *Resolver) effectiveSlugs(ctx context.Context, p Principal, now time.Time) ([]string, error) {
	compute := func() ([]string, error) { return r.computeEffectiveSlugs(ctx, p, now) }
	if !r.cache.PermissionCacheEnabled() {
		return compute()
	}
	return remember(ctx, r.cache, r.cache.UserPermissionsKey(p), compute)
}

func (r *Resolver) computeEffectiveSlugs(ctx context.Context, p Principal, now time.Time) ([]string, error) {
	direct, err := r.store.ActivePermissions(ctx, p, now)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	slugs := make([]string, 0, len(direct))
	add := func(slug string) {
		if _, ok := seen[slug]; !ok {
			seen[slug] = struct{}{}
			slugs = append(slugs, slug)
		}
	}
	for _, perm := range direct {
		add(perm.Slug)
	}

	roles, err := r.store.ActiveRoles(ctx, p, now)
	if err != nil {
		return nil, err
	}
	if r.opts.Performance.EagerLoading {
		ids := make([]uint, 0, len(roles))
		for _, role := range roles {
			ids = append(ids, role.ID)
		}
		byRole, err := r.store.LoadRolePermissions(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, perms := range byRole {
			for _, perm := range perms {
				add(perm.Slug)
			}
		}
	} else {
		for _, role := range roles {
			roleID := role.ID
			rolePerms, err := remember(ctx, r.cache, r.cache.RolePermissionsKey(roleID), func() ([]string, error) {
				return r.store.RolePermissionSlugs(ctx, roleID)
			})
			if err != nil {
				return nil, err
			}
			for _, slug := range rolePerms {
				add(slug)
			}
		}
	}
	return slugs, nil
}

// HasPermission reports whether the principal holds the referenced
// permission, directly or through a role. A configured super-admin role
// short-circuits every check; with wildcard matching enabled each granted
// slug is applied as a glob pattern against the requested one.
func (r *Resolver) HasPermission(ctx context.Context, p Principal, ref any) (bool, error) {
	super, err := r.IsSuperAdmin(ctx, p)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	slug, err := r.permissionSlugFor(ctx, ref)
	if err != nil {
		return false, err
	}
	slugs, err := r.effectiveSlugs(ctx, p, r.now())
	if err != nil {
		return false, err
	}

	if r.opts.Wildcard.Enabled {
		for _, granted := range slugs {
			if matchWildcard(granted, slug) {
				return true, nil
			}
		}
	}
	for _, granted := range slugs {
		if granted == slug {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the principal holds at least one of
// the referenced permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, p Principal, refs ...any) (bool, error) {
	for _, ref := range refs {
		ok, err := r.HasPermission(ctx, p, ref)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether the principal holds every referenced
// permission.
func (r *Resolver) HasAllPermissions(ctx context.Context, p Principal, refs ...any) (bool, error) {
	for _, ref := range refs {
		ok, err := r.HasPermission(ctx, p, ref)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// GetAllPermissions returns the principal's full effective permission
// entity set. The id set is cached separately so entity hydration stays a
// single fetch against the store.
func (r *Resolver) GetAllPermissions(ctx context.Context, p Principal) ([]Permission, error) {
	now := r.now()
	compute := func() ([]uint, error) {
		direct, err := r.store.ActivePermissions(ctx, p, now)
		if err != nil {
			return nil, err
		}
		seen := make(map[uint]struct{})
		ids := make([]uint, 0, len(direct))
		add := func(id uint) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		for _, perm := range direct {
			add(perm.ID)
		}
		roles, err := r.store.ActiveRoles(ctx, p, now)
		if err != nil {
			return nil, err
		}
		roleIDs := make([]uint, 0, len(roles))
		for _, role := range roles {
			roleIDs = append(roleIDs, role.ID)
		}
		byRole, err := r.store.LoadRolePermissions(ctx, roleIDs)
		if err != nil {
			return nil, err
		}
		for _, perms := range byRole {
			for _, perm := range perms {
				add(perm.ID)
			}
		}
		return ids, nil
	}

	var ids []uint
	var err error
	if r.cache.PermissionCacheEnabled() {
		ids, err = remember(ctx, r.cache, r.cache.UserPermissionIDsKey(p), compute)
	} else {
		ids, err = compute()
	}
	if err != nil {
		return nil, err
	}
	return r.store.PermissionsByIDs(ctx, ids)
}

// IsSuperAdmin reports whether the principal holds the configured
// super-admin role. Always false when the feature is disabled.
func (r *Resolver) IsSuperAdmin(ctx context.Context, p Principal) (bool, error) {
	if !r.opts.SuperAdmin.Enabled {
		return false, nil
	}
	return r.HasRole(ctx, p, r.opts.SuperAdmin.RoleSlug)
}
