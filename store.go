package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store provides durable, transactional access to roles, permissions and
// grants. It is the single source of truth; the cache is a disposable view
// derived from it.
type Store struct {
	db   *gorm.DB
	opts Options
}

// NewStore wraps a gorm connection.
func NewStore(db *gorm.DB, opts Options) *Store {
	return &Store{db: db, opts: opts}
}

// AutoMigrate creates or updates the permission tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Role{}, &Permission{}, &RolePermission{}, &PrincipalRole{}, &PrincipalPermission{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

// Transaction runs fn against a transactional store. A failed fn rolls the
// whole mutation back. With transactions disabled in the options fn runs
// against the plain connection.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if !s.opts.Performance.UseTransactions {
		return fn(&Store{db: s.db.WithContext(ctx), opts: s.opts})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, opts: s.opts})
	})
}

// translate maps driver errors onto the package taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

// storedGuard is the guard written to new rows. Rows always carry a guard
// value so that enabling scoping later does not orphan them.
func (s *Store) storedGuard(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.opts.Guards.Default
}

// scopeGuard narrows a lookup to one guard when scoping is enabled.
func (s *Store) scopeGuard(q *gorm.DB, guard string) *gorm.DB {
	if g := s.opts.guard(guard); g != "" {
		return q.Where("guard_name = ?", g)
	}
	return q
}

// CreateRole inserts a new role. A duplicate (slug, guard) pair returns
// ErrConflict.
func (s *Store) CreateRole(ctx context.Context, slug, name, description, guard string) (Role, error) {
	role := Role{
		Slug:        slug,
		Name:        name,
		Description: description,
		GuardName:   s.storedGuard(guard),
	}
	if role.Name == "" {
		role.Name = titleize(slug)
	}
	if err := s.db.WithContext(ctx).Create(&role).Error; err != nil {
		return Role{}, fmt.Errorf("failed to create role %s: %w", slug, translate(err))
	}
	return role, nil
}

// CreatePermission inserts a new permission. A duplicate (slug, guard)
// pair returns ErrConflict.
func (s *Store) CreatePermission(ctx context.Context, slug, name, description, guard string) (Permission, error) {
	perm := Permission{
		Slug:        slug,
		Name:        name,
		Description: description,
		GuardName:   s.storedGuard(guard),
	}
	if perm.Name == "" {
		perm.Name = titleize(slug)
	}
	if err := s.db.WithContext(ctx).Create(&perm).Error; err != nil {
		return Permission{}, fmt.Errorf("failed to create permission %s: %w", slug, translate(err))
	}
	return perm, nil
}

// FindOrCreateRole fetches a role by slug, creating it when absent.
func (s *Store) FindOrCreateRole(ctx context.Context, slug, name, guard string) (Role, error) {
	role, err := s.RoleBySlug(ctx, slug, guard)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	return s.CreateRole(ctx, slug, name, "", guard)
}

// FindOrCreatePermission fetches a permission by slug, creating it when
// absent.
func (s *Store) FindOrCreatePermission(ctx context.Context, slug, name, guard string) (Permission, error) {
	perm, err := s.PermissionBySlug(ctx, slug, guard)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	return s.CreatePermission(ctx, slug, name, "", guard)
}

// RoleBySlug fetches a role by slug, scoped to the guard when guard
// scoping is enabled.
func (s *Store) RoleBySlug(ctx context.Context, slug, guard string) (Role, error) {
	var role Role
	q := s.scopeGuard(s.db.WithContext(ctx).Where("slug = ?", slug), guard)
	if err := q.First(&role).Error; err != nil {
		return Role{}, fmt.Errorf("role %s: %w", slug, translate(err))
	}
	return role, nil
}

// PermissionBySlug fetches a permission by slug, scoped to the guard when
// guard scoping is enabled.
func (s *Store) PermissionBySlug(ctx context.Context, slug, guard string) (Permission, error) {
	var perm Permission
	q := s.scopeGuard(s.db.WithContext(ctx).Where("slug = ?", slug), guard)
	if err := q.First(&perm).Error; err != nil {
		return Permission{}, fmt.Errorf("permission %s: %w", slug, translate(err))
	}
	return perm, nil
}

// RoleByID fetches a role by primary key.
func (s *Store) RoleByID(ctx context.Context, id uint) (Role, error) {
	var role Role
	if err := s.db.WithContext(ctx).First(&role, id).Error; err != nil {
		return Role{}, fmt.Errorf("role %d: %w", id, translate(err))
	}
	return role, nil
}

// PermissionByID fetches a permission by primary key.
func (s *Store) PermissionByID(ctx context.Context, id uint) (Permission, error) {
	var perm Permission
	if err := s.db.WithContext(ctx).First(&perm, id).Error; err != nil {
		return Permission{}, fmt.Errorf("permission %d: %w", id, translate(err))
	}
	return perm, nil
}

// ResolveRole accepts a Role, a numeric id or a slug interchangeably.
func (s *Store) ResolveRole(ctx context.Context, ref any) (Role, error) {
	switch v := ref.(type) {
	case Role:
		return v, nil
	case *Role:
		return *v, nil
	case string:
		return s.RoleBySlug(ctx, v, "")
	case int:
		return s.RoleByID(ctx, uint(v))
	case int64:
		return s.RoleByID(ctx, uint(v))
	case uint:
		return s.RoleByID(ctx, v)
	case uint64:
		return s.RoleByID(ctx, uint(v))
	default:
		return Role{}, fmt.Errorf("role reference %T: %w", ref, ErrNotFound)
	}
}

// ResolvePermission accepts a Permission, a numeric id or a slug
// interchangeably.
func (s *Store) ResolvePermission(ctx context.Context, ref any) (Permission, error) {
	switch v := ref.(type) {
	case Permission:
		return v, nil
	case *Permission:
		return *v, nil
	case string:
		return s.PermissionBySlug(ctx, v, "")
	case int:
		return s.PermissionByID(ctx, uint(v))
	case int64:
		return s.PermissionByID(ctx, uint(v))
	case uint:
		return s.PermissionByID(ctx, v)
	case uint64:
		return s.PermissionByID(ctx, uint(v))
	default:
		return Permission{}, fmt.Errorf("permission reference %T: %w", ref, ErrNotFound)
	}
}

// ResolveRoleIDs maps refs to role ids.
func (s *Store) ResolveRoleIDs(ctx context.Context, refs []any) ([]uint, error) {
	ids := make([]uint, 0, len(refs))
	for _, ref := range refs {
		role, err := s.ResolveRole(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, role.ID)
	}
	return ids, nil
}

// ResolvePermissionIDs maps refs to permission ids.
func (s *Store) ResolvePermissionIDs(ctx context.Context, refs []any) ([]uint, error) {
	ids := make([]uint, 0, len(refs))
	for _, ref := range refs {
		perm, err := s.ResolvePermission(ctx, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, perm.ID)
	}
	return ids, nil
}

// AttachRoleToPrincipal grants a role without touching other grants. When
// replaceExpiry is set an existing grant's expiry is overwritten,
// otherwise the existing row is left as is.
func (s *Store) AttachRoleToPrincipal(ctx context.Context, p Principal, roleID uint, expiresAt *time.Time, replaceExpiry bool) error {
	grant := PrincipalRole{
		PrincipalID:   p.PrincipalID(),
		PrincipalType: p.PrincipalType(),
		RoleID:        roleID,
		ExpiresAt:     expiresAt,
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "principal_id"}, {Name: "principal_type"}, {Name: "role_id"}},
	}
	if replaceExpiry {
		conflict.DoUpdates = clause.AssignmentColumns([]string{"expires_at", "updated_at"})
	} else {
		conflict.DoNothing = true
	}
	if err := s.db.WithContext(ctx).Clauses(conflict).Create(&grant).Error; err != nil {
		return fmt.Errorf("failed to assign role %d: %w", roleID, translate(err))
	}
	return nil
}

// DetachRolesFromPrincipal revokes the given roles from a principal.
func (s *Store) DetachRolesFromPrincipal(ctx context.Context, p Principal, roleIDs []uint) error {
	if len(roleIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND principal_type = ? AND role_id IN ?", p.PrincipalID(), p.PrincipalType(), roleIDs).
		Delete(&PrincipalRole{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove roles: %w", translate(err))
	}
	return nil
}

// AttachPermissionToPrincipal grants a direct permission. Expiry handling
// mirrors AttachRoleToPrincipal.
func (s *Store) AttachPermissionToPrincipal(ctx context.Context, p Principal, permID uint, expiresAt *time.Time, replaceExpiry bool) error {
	grant := PrincipalPermission{
		PrincipalID:   p.PrincipalID(),
		PrincipalType: p.PrincipalType(),
		PermissionID:  permID,
		ExpiresAt:     expiresAt,
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "principal_id"}, {Name: "principal_type"}, {Name: "permission_id"}},
	}
	if replaceExpiry {
		conflict.DoUpdates = clause.AssignmentColumns([]string{"expires_at", "updated_at"})
	} else {
		conflict.DoNothing = true
	}
	if err := s.db.WithContext(ctx).Clauses(conflict).Create(&grant).Error; err != nil {
		return fmt.Errorf("failed to give permission %d: %w", permID, translate(err))
	}
	return nil
}

// DetachPermissionsFromPrincipal revokes direct permissions from a
// principal.
func (s *Store) DetachPermissionsFromPrincipal(ctx context.Context, p Principal, permIDs []uint) error {
	if len(permIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND principal_type = ? AND permission_id IN ?", p.PrincipalID(), p.PrincipalType(), permIDs).
		Delete(&PrincipalPermission{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke permissions: %w", translate(err))
	}
	return nil
}

// AttachPermissionToRole links a permission to a role, ignoring an
// existing link.
func (s *Store) AttachPermissionToRole(ctx context.Context, roleID, permID uint) error {
	link := RolePermission{RoleID: roleID, PermissionID: permID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to link permission %d to role %d: %w", permID, roleID, translate(err))
	}
	return nil
}

// DetachPermissionsFromRole unlinks permissions from a role.
func (s *Store) DetachPermissionsFromRole(ctx context.Context, roleID uint, permIDs []uint) error {
	if len(permIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("role_id = ? AND permission_id IN ?", roleID, permIDs).
		Delete(&RolePermission{}).Error
	if err != nil {
		return fmt.Errorf("failed to unlink permissions from role %d: %w", roleID, translate(err))
	}
	return nil
}

// MembershipDiff reports what a replace operation actually changed.
type MembershipDiff struct {
	Added   []uint
	Removed []uint
}

// diffSets computes the symmetric difference between current and desired
// id sets.
func diffSets(current, desired []uint) MembershipDiff {
	have := make(map[uint]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	want := make(map[uint]struct{}, len(desired))
	var diff MembershipDiff
	for _, id := range desired {
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for _, id := range current {
		if _, ok := want[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	return diff
}

// ReplaceRolePermissions makes the role's permission set equal the desired
// ids, applying only the additions and removals.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID uint, permIDs []uint) (MembershipDiff, error) {
	var links []RolePermission
	if err := s.db.WithContext(ctx).Where("role_id = ?", roleID).Find(&links).Error; err != nil {
		return MembershipDiff{}, fmt.Errorf("failed to fetch role permissions: %w", translate(err))
	}
	current := make([]uint, 0, len(links))
	for _, link := range links {
		current = append(current, link.PermissionID)
	}
	diff := diffSets(current, permIDs)
	for _, id := range diff.Added {
		if err := s.AttachPermissionToRole(ctx, roleID, id); err != nil {
			return MembershipDiff{}, err
		}
	}
	if err := s.DetachPermissionsFromRole(ctx, roleID, diff.Removed); err != nil {
		return MembershipDiff{}, err
	}
	return diff, nil
}

// ReplacePrincipalRoles makes the principal's role set equal the desired
// ids, applying only the additions and removals.
func (s *Store) ReplacePrincipalRoles(ctx context.Context, p Principal, roleIDs []uint) (MembershipDiff, error) {
	var grants []PrincipalRole
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND principal_type = ?", p.PrincipalID(), p.PrincipalType()).
		Find(&grants).Error
	if err != nil {
		return MembershipDiff{}, fmt.Errorf("failed to fetch principal roles: %w", translate(err))
	}
	current := make([]uint, 0, len(grants))
	for _, grant := range grants {
		current = append(current, grant.RoleID)
	}
	diff := diffSets(current, roleIDs)
	for _, id := range diff.Added {
		if err := s.AttachRoleToPrincipal(ctx, p, id, nil, false); err != nil {
			return MembershipDiff{}, err
		}
	}
	if err := s.DetachRolesFromPrincipal(ctx, p, diff.Removed); err != nil {
		return MembershipDiff{}, err
	}
	return diff, nil
}

// ReplacePrincipalPermissions makes the principal's direct permission set
// equal the desired ids, applying only the additions and removals.
func (s *Store) ReplacePrincipalPermissions(ctx context.Context, p Principal, permIDs []uint) (MembershipDiff, error) {
	var grants []PrincipalPermission
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND principal_type = ?", p.PrincipalID(), p.PrincipalType()).
		Find(&grants).Error
	if err != nil {
		return MembershipDiff{}, fmt.Errorf("failed to fetch principal permissions: %w", translate(err))
	}
	current := make([]uint, 0, len(grants))
	for _, grant := range grants {
		current = append(current, grant.PermissionID)
	}
	diff := diffSets(current, permIDs)
	for _, id := range diff.Added {
		if err := s.AttachPermissionToPrincipal(ctx, p, id, nil, false); err != nil {
			return MembershipDiff{}, err
		}
	}
	if err := s.DetachPermissionsFromPrincipal(ctx, p, diff.Removed); err != nil {
		return MembershipDiff{}, err
	}
	return diff, nil
}

// activeWhere appends the expiry filter when expirable grants of this kind
// are enabled. The same instant is used for the whole resolution call.
func activeWhere(q *gorm.DB, enabled bool, now time.Time) *gorm.DB {
	if !enabled {
		return q
	}
	return q.Where("expires_at IS NULL OR expires_at > ?", now)
}

// ActiveRoles returns the principal's roles whose grants are active at the
// given instant.
func (s *Store) ActiveRoles(ctx context.Context, p Principal, now time.Time) ([]Role, error) {
	q := s.db.WithContext(ctx).
		Where("principal_id = ? AND principal_type = ?", p.PrincipalID(), p.PrincipalType())
	q = activeWhere(q, s.opts.ExpirableRoles.Enabled, now)

	var grants []PrincipalRole
	if err := q.Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch principal roles: %w", translate(err))
	}
	if len(grants) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(grants))
	for _, grant := range grants {
		ids = append(ids, grant.RoleID)
	}
	var roles []Role
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", translate(err))
	}
	return roles, nil
}

// ActivePermissions returns the principal's direct permissions whose
// grants are active at the given instant.
func (s *Store) ActivePermissions(ctx context.Context, p Principal, now time.Time) ([]Permission, error) {
	q := s.db.WithContext(ctx).
		Where("principal_id = ? AND principal_type = ?", p.PrincipalID(), p.PrincipalType())
	q = activeWhere(q, s.opts.ExpirablePermissions.Enabled, now)

	var grants []PrincipalPermission
	if err := q.Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch principal permissions: %w", translate(err))
	}
	if len(grants) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(grants))
	for _, grant := range grants {
		ids = append(ids, grant.PermissionID)
	}
	return s.PermissionsByIDs(ctx, ids)
}

// LoadRolePermissions batch-fetches the permission sets of several roles
// in two queries, keyed by role id.
func (s *Store) LoadRolePermissions(ctx context.Context, roleIDs []uint) (map[uint][]Permission, error) {
	result := make(map[uint][]Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return result, nil
	}
	var links []RolePermission
	if err := s.db.WithContext(ctx).Where("role_id IN ?", roleIDs).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch role permissions: %w", translate(err))
	}
	permIDs := make([]uint, 0, len(links))
	seen := make(map[uint]struct{}, len(links))
	for _, link := range links {
		if _, ok := seen[link.PermissionID]; !ok {
			seen[link.PermissionID] = struct{}{}
			permIDs = append(permIDs, link.PermissionID)
		}
	}
	perms, err := s.PermissionsByIDs(ctx, permIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]Permission, len(perms))
	for _, perm := range perms {
		byID[perm.ID] = perm
	}
	for _, link := range links {
		if perm, ok := byID[link.PermissionID]; ok {
			result[link.RoleID] = append(result[link.RoleID], perm)
		}
	}
	return result, nil
}

// RolePermissionSlugs returns the slug set attached to one role.
func (s *Store) RolePermissionSlugs(ctx context.Context, roleID uint) ([]string, error) {
	byRole, err := s.LoadRolePermissions(ctx, []uint{roleID})
	if err != nil {
		return nil, err
	}
	perms := byRole[roleID]
	slugs := make([]string, 0, len(perms))
	for _, perm := range perms {
		slugs = append(slugs, perm.Slug)
	}
	return slugs, nil
}

// PermissionsByIDs fetches permission entities for an id set.
func (s *Store) PermissionsByIDs(ctx context.Context, ids []uint) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var perms []Permission
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", translate(err))
	}
	return perms, nil
}

// PrincipalsWithRole enumerates every principal currently holding the
// role, expired grants included. Used for cascading cache invalidation.
func (s *Store) PrincipalsWithRole(ctx context.Context, roleID uint) ([]Subject, error) {
	var grants []PrincipalRole
	if err := s.db.WithContext(ctx).Where("role_id = ?", roleID).Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch role holders: %w", translate(err))
	}
	subjects := make([]Subject, 0, len(grants))
	for _, grant := range grants {
		subjects = append(subjects, Subject{ID: grant.PrincipalID, Type: grant.PrincipalType})
	}
	return subjects, nil
}

// PrincipalsWithPermission enumerates every principal holding the
// permission directly.
func (s *Store) PrincipalsWithPermission(ctx context.Context, permID uint) ([]Subject, error) {
	var grants []PrincipalPermission
	if err := s.db.WithContext(ctx).Where("permission_id = ?", permID).Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch permission holders: %w", translate(err))
	}
	subjects := make([]Subject, 0, len(grants))
	for _, grant := range grants {
		subjects = append(subjects, Subject{ID: grant.PrincipalID, Type: grant.PrincipalType})
	}
	return subjects, nil
}

// DeleteRole removes a role and cascades its links and grants.
func (s *Store) DeleteRole(ctx context.Context, roleID uint) error {
	if err := s.db.WithContext(ctx).Where("role_id = ?", roleID).Delete(&RolePermission{}).Error; err != nil {
		return fmt.Errorf("failed to delete role-permission links: %w", translate(err))
	}
	if err := s.db.WithContext(ctx).Where("role_id = ?", roleID).Delete(&PrincipalRole{}).Error; err != nil {
		return fmt.Errorf("failed to delete role grants: %w", translate(err))
	}
	if err := s.db.WithContext(ctx).Delete(&Role{}, roleID).Error; err != nil {
		return fmt.Errorf("failed to delete role: %w", translate(err))
	}
	return nil
}

// DeletePermission removes a permission and cascades its links and grants.
func (s *Store) DeletePermission(ctx context.Context, permID uint) error {
	if err := s.db.WithContext(ctx).Where("permission_id = ?", permID).Delete(&RolePermission{}).Error; err != nil {
		return fmt.Errorf("failed to delete role-permission links: %w", translate(err))
	}
	if err := s.db.WithContext(ctx).Where("permission_id = ?", permID).Delete(&PrincipalPermission{}).Error; err != nil {
		return fmt.Errorf("failed to delete permission grants: %w", translate(err))
	}
	if err := s.db.WithContext(ctx).Delete(&Permission{}, permID).Error; err != nil {
		return fmt.Errorf("failed to delete permission: %w", translate(err))
	}
	return nil
}

// titleize turns "create-post" into "Create Post", the default display
// name for a slug.
func titleize(slug string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
