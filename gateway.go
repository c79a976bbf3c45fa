package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mutator is the gateway for every grant-changing operation. Each call
// resolves its references, applies the change inside one store transaction
// and, only after the commit, invalidates exactly the cache entries whose
// precomputed results went stale. A failed transaction leaves both the
// store and the cache untouched.
type Mutator struct {
	store *Store
	cache *Cache
	opts  Options
	log   *zap.Logger
}

// NewMutator constructs a mutation gateway over the given store and cache.
func NewMutator(store *Store, cache *Cache, opts Options) *Mutator {
	return &Mutator{
		store: store,
		cache: cache,
		opts:  opts,
		log:   zap.NewNop(),
	}
}

// wrapTx classifies a mutation failure: domain errors pass through,
// anything else aborted the transaction.
func wrapTx(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransaction, err)
}

// AssignRole grants the referenced roles to the principal, leaving
// existing grants untouched.
func (m *Mutator) AssignRole(ctx context.Context, p Principal, roles ...any) error {
	ids, err := m.store.ResolveRoleIDs(ctx, roles)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		for _, id := range ids {
			if err := tx.AttachRoleToPrincipal(ctx, p, id, nil, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return nil
}

// RemoveRole revokes the referenced roles from the principal.
func (m *Mutator) RemoveRole(ctx context.Context, p Principal, roles ...any) error {
	ids, err := m.store.ResolveRoleIDs(ctx, roles)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.DetachRolesFromPrincipal(ctx, p, ids)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return nil
}

// SyncRoles makes the principal's role set equal the referenced set,
// applying only the difference. Calling it twice with the same set is a
// no-op the second time.
func (m *Mutator) SyncRoles(ctx context.Context, p Principal, roles []any) (MembershipDiff, error) {
	ids, err := m.store.ResolveRoleIDs(ctx, roles)
	if err != nil {
		return MembershipDiff{}, err
	}
	var diff MembershipDiff
	err = m.store.Transaction(ctx, func(tx *Store) error {
		diff, err = tx.ReplacePrincipalRoles(ctx, p, ids)
		return err
	})
	if err != nil {
		return MembershipDiff{}, wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return diff, nil
}

// AssignRoleUntil grants a role that expires at the given instant,
// replacing the expiry of an existing grant. Requires expirable roles to
// be enabled.
func (m *Mutator) AssignRoleUntil(ctx context.Context, p Principal, role any, expiresAt time.Time) error {
	if !m.opts.ExpirableRoles.Enabled {
		return fmt.Errorf("%w: expirable roles are not enabled", ErrConfiguration)
	}
	resolved, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.AttachRoleToPrincipal(ctx, p, resolved.ID, &expiresAt, true)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return nil
}

// GivePermissionTo grants the referenced permissions directly to the
// principal, bypassing roles.
func (m *Mutator) GivePermissionTo(ctx context.Context, p Principal, perms ...any) error {
	ids, err := m.store.ResolvePermissionIDs(ctx, perms)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		for _, id := range ids {
			if err := tx.AttachPermissionToPrincipal(ctx, p, id, nil, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return nil
}

// RevokePermissionTo revokes direct permissions from the principal.
func (m *Mutator) RevokePermissionTo(ctx context.Context, p Principal, perms ...any) error {
	ids, err := m.store.ResolvePermissionIDs(ctx, perms)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.DetachPermissionsFromPrincipal(ctx, p, ids)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return nil
}

// SyncPermissions makes the principal's direct permission set equal the
// referenced set, applying only the difference.
func (m *Mutator) SyncPermissions(ctx context.Context, p Principal, perms []any) (MembershipDiff, error) {
	ids, err := m.store.ResolvePermissionIDs(ctx, perms)
	if err != nil {
		return MembershipDiff{}, err
	}
	var diff MembershipDiff
	err = m.store.Transaction(ctx, func(tx *Store) error {
		diff, err = tx.ReplacePrincipalPermissions(ctx, p, ids)
		return err
	})
	if err != nil {
		return MembershipDiff{}, wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return diff, nil
}

// GivePermissionToUntil grants a direct permission that expires at the
// given instant. Requires expirable permissions to be enabled.
func (m *Mutator) GivePermissionToUntil(ctx context.Context, p Principal, perm any, expiresAt time.Time) error {
	if !m.opts.ExpirablePermissions.Enabled {
		return fmt.Errorf("%w: expirable permissions are not enabled", ErrConfiguration)
	}
	resolved, err := m.store.ResolvePermission(ctx, perm)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.AttachPermissionToPrincipal(ctx, p, resolved.ID, &expiresAt, true)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.ClearPrincipal(ctx, p)
	return nil
}

// GrantToRole links the referenced permissions to the role. Every
// principal holding the role depends on its permission set, so after the
// commit the caches of all current holders are invalidated along with the
// role's own entry.
func (m *Mutator) GrantToRole(ctx context.Context, role any, perms ...any) error {
	resolved, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return err
	}
	ids, err := m.store.ResolvePermissionIDs(ctx, perms)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		for _, id := range ids {
			if err := tx.AttachPermissionToRole(ctx, resolved.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapTx(err)
	}
	m.invalidateRoleHolders(ctx, resolved.ID)
	return nil
}

// RevokeFromRole unlinks the referenced permissions from the role and
// invalidates every holder's caches.
func (m *Mutator) RevokeFromRole(ctx context.Context, role any, perms ...any) error {
	resolved, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return err
	}
	ids, err := m.store.ResolvePermissionIDs(ctx, perms)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.DetachPermissionsFromRole(ctx, resolved.ID, ids)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.invalidateRoleHolders(ctx, resolved.ID)
	return nil
}

// SyncRolePermissions makes the role's permission set equal the
// referenced set and invalidates every holder's caches.
func (m *Mutator) SyncRolePermissions(ctx context.Context, role any, perms []any) (MembershipDiff, error) {
	resolved, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return MembershipDiff{}, err
	}
	ids, err := m.store.ResolvePermissionIDs(ctx, perms)
	if err != nil {
		return MembershipDiff{}, err
	}
	var diff MembershipDiff
	err = m.store.Transaction(ctx, func(tx *Store) error {
		diff, err = tx.ReplaceRolePermissions(ctx, resolved.ID, ids)
		return err
	})
	if err != nil {
		return MembershipDiff{}, wrapTx(err)
	}
	m.invalidateRoleHolders(ctx, resolved.ID)
	return diff, nil
}

// RoleHasPermission reports whether the role's own permission set contains
// the referenced permission, reading through the role cache.
func (m *Mutator) RoleHasPermission(ctx context.Context, role any, perm any) (bool, error) {
	resolved, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return false, err
	}
	var slug string
	if s, ok := perm.(string); ok {
		slug = s
	} else {
		p, err := m.store.ResolvePermission(ctx, perm)
		if err != nil {
			return false, err
		}
		slug = p.Slug
	}
	slugs, err := remember(ctx, m.cache, m.cache.RolePermissionsKey(resolved.ID), func() ([]string, error) {
		return m.store.RolePermissionSlugs(ctx, resolved.ID)
	})
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

// CreateRole creates a role in the default guard.
func (m *Mutator) CreateRole(ctx context.Context, slug, name, description string) (Role, error) {
	return m.store.CreateRole(ctx, slug, name, description, "")
}

// CreatePermission creates a permission in the default guard.
func (m *Mutator) CreatePermission(ctx context.Context, slug, name, description string) (Permission, error) {
	return m.store.CreatePermission(ctx, slug, name, description, "")
}

// FindOrCreateRole fetches a role by slug, creating it when absent.
func (m *Mutator) FindOrCreateRole(ctx context.Context, slug string) (Role, error) {
	return m.store.FindOrCreateRole(ctx, slug, "", "")
}

// FindOrCreatePermission fetches a permission by slug, creating it when
// absent.
func (m *Mutator) FindOrCreatePermission(ctx context.Context, slug string) (Permission, error) {
	return m.store.FindOrCreatePermission(ctx, slug, "", "")
}

// DeleteRole removes the role, cascading its links and grants. The blast
// radius of a deleted role is unbounded without enumerating every
// historical holder, so the whole cache namespace is flushed.
func (m *Mutator) DeleteRole(ctx context.Context, role any) error {
	resolved, err := m.store.ResolveRole(ctx, role)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.DeleteRole(ctx, resolved.ID)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.Flush(ctx)
	return nil
}

// DeletePermission removes the permission, cascading its links and
// grants, then flushes the cache namespace.
func (m *Mutator) DeletePermission(ctx context.Context, perm any) error {
	resolved, err := m.store.ResolvePermission(ctx, perm)
	if err != nil {
		return err
	}
	err = m.store.Transaction(ctx, func(tx *Store) error {
		return tx.DeletePermission(ctx, resolved.ID)
	})
	if err != nil {
		return wrapTx(err)
	}
	m.cache.Flush(ctx)
	return nil
}

// invalidateRoleHolders clears the cached sets of every principal holding
// the role plus the role's own entry. The mutation already committed, so
// failures here must not surface; if the holders cannot even be
// enumerated the whole namespace is flushed instead.
func (m *Mutator) invalidateRoleHolders(ctx context.Context, roleID uint) {
	subjects, err := m.store.PrincipalsWithRole(ctx, roleID)
	if err != nil {
		m.log.Warn("failed to enumerate role holders, flushing cache", zap.Uint("role_id", roleID), zap.Error(err))
		m.cache.Flush(ctx)
		return
	}
	for _, subject := range subjects {
		m.cache.ClearPrincipal(ctx, subject)
	}
	m.cache.ClearRole(ctx, roleID)
}
