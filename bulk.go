package permissions

import (
	"context"
	"fmt"
	"time"
)

// BulkHasPermission checks one permission against many principals with a
// handful of batched queries instead of a per-principal round-trip. The
// store is loaded in chunks bounded by the configured chunk size; the
// per-principal caches are bypassed, so results always reflect the store.
func (r *Resolver) BulkHasPermission(ctx context.Context, subjects []Subject, perm any) (map[Subject]bool, error) {
	slug, err := r.permissionSlugFor(ctx, perm)
	if err != nil {
		return nil, err
	}
	now := r.now()
	results := make(map[Subject]bool, len(subjects))

	chunkSize := r.opts.Performance.ChunkSize
	for start := 0; start < len(subjects); start += chunkSize {
		end := start + chunkSize
		if end > len(subjects) {
			end = len(subjects)
		}
		if err := r.bulkChunk(ctx, subjects[start:end], slug, now, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *Resolver) bulkChunk(ctx context.Context, chunk []Subject, slug string, now time.Time, results map[Subject]bool) error {
	wanted := make(map[Subject]struct{}, len(chunk))
	ids := make([]string, 0, len(chunk))
	for _, subject := range chunk {
		wanted[subject] = struct{}{}
		ids = append(ids, subject.ID)
		results[subject] = false
	}

	roleGrants, err := r.store.roleGrantsByPrincipalIDs(ctx, ids, now)
	if err != nil {
		return err
	}
	permGrants, err := r.store.permissionGrantsByPrincipalIDs(ctx, ids, now)
	if err != nil {
		return err
	}

	rolesBySubject := make(map[Subject][]uint)
	roleIDs := make([]uint, 0)
	seenRole := make(map[uint]struct{})
	for _, grant := range roleGrants {
		subject := Subject{ID: grant.PrincipalID, Type: grant.PrincipalType}
		if _, ok := wanted[subject]; !ok {
			continue
		}
		rolesBySubject[subject] = append(rolesBySubject[subject], grant.RoleID)
		if _, ok := seenRole[grant.RoleID]; !ok {
			seenRole[grant.RoleID] = struct{}{}
			roleIDs = append(roleIDs, grant.RoleID)
		}
	}

	directBySubject := make(map[Subject][]uint)
	permIDs := make([]uint, 0)
	seenPerm := make(map[uint]struct{})
	for _, grant := range permGrants {
		subject := Subject{ID: grant.PrincipalID, Type: grant.PrincipalType}
		if _, ok := wanted[subject]; !ok {
			continue
		}
		directBySubject[subject] = append(directBySubject[subject], grant.PermissionID)
		if _, ok := seenPerm[grant.PermissionID]; !ok {
			seenPerm[grant.PermissionID] = struct{}{}
			permIDs = append(permIDs, grant.PermissionID)
		}
	}

	permsByRole, err := r.store.LoadRolePermissions(ctx, roleIDs)
	if err != nil {
		return err
	}
	directPerms, err := r.store.PermissionsByIDs(ctx, permIDs)
	if err != nil {
		return err
	}
	slugByPermID := make(map[uint]string, len(directPerms))
	for _, perm := range directPerms {
		slugByPermID[perm.ID] = perm.Slug
	}

	var superRoleIDs map[uint]struct{}
	if r.opts.SuperAdmin.Enabled {
		superRoleIDs = make(map[uint]struct{})
		roles, err := r.store.rolesByIDs(ctx, roleIDs)
		if err != nil {
			return err
		}
		for _, role := range roles {
			if role.Slug == r.opts.SuperAdmin.RoleSlug {
				superRoleIDs[role.ID] = struct{}{}
			}
		}
	}

	matches := func(granted string) bool {
		if granted == slug {
			return true
		}
		return r.opts.Wildcard.Enabled && matchWildcard(granted, slug)
	}

	for subject := range wanted {
		for _, id := range directBySubject[subject] {
			if matches(slugByPermID[id]) {
				results[subject] = true
				break
			}
		}
		if results[subject] {
			continue
		}
		for _, roleID := range rolesBySubject[subject] {
			if superRoleIDs != nil {
				if _, ok := superRoleIDs[roleID]; ok {
					results[subject] = true
					break
				}
			}
			for _, perm := range permsByRole[roleID] {
				if matches(perm.Slug) {
					results[subject] = true
					break
				}
			}
			if results[subject] {
				break
			}
		}
	}
	return nil
}

// roleGrantsByPrincipalIDs loads active role grants for a batch of
// principal ids. Type filtering happens in the caller, which knows the
// full (id, kind) identities.
func (s *Store) roleGrantsByPrincipalIDs(ctx context.Context, ids []string, now time.Time) ([]PrincipalRole, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := activeWhere(
		s.db.WithContext(ctx).Where("principal_id IN ?", ids),
		s.opts.ExpirableRoles.Enabled, now,
	)
	var grants []PrincipalRole
	if err := q.Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch role grants: %w", translate(err))
	}
	return grants, nil
}

// permissionGrantsByPrincipalIDs loads active direct permission grants for
// a batch of principal ids.
func (s *Store) permissionGrantsByPrincipalIDs(ctx context.Context, ids []string, now time.Time) ([]PrincipalPermission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := activeWhere(
		s.db.WithContext(ctx).Where("principal_id IN ?", ids),
		s.opts.ExpirablePermissions.Enabled, now,
	)
	var grants []PrincipalPermission
	if err := q.Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch permission grants: %w", translate(err))
	}
	return grants, nil
}

func (s *Store) rolesByIDs(ctx context.Context, ids []uint) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var roles []Role
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", translate(err))
	}
	return roles, nil
}
