package permissions

import (
	"time"
)

// Role represents a named grouping of permissions. The slug is unique
// within its guard.
type Role struct {
	ID          uint   `gorm:"primaryKey"`
	Slug        string `gorm:"not null;uniqueIndex:idx_roles_slug_guard"`
	Name        string `gorm:"not null"`
	Description string
	GuardName   string `gorm:"not null;default:web;uniqueIndex:idx_roles_slug_guard"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents a named access action. The slug is unique within
// its guard.
type Permission struct {
	ID          uint   `gorm:"primaryKey"`
	Slug        string `gorm:"not null;uniqueIndex:idx_permissions_slug_guard"`
	Name        string `gorm:"not null"`
	Description string
	GuardName   string `gorm:"not null;default:web;uniqueIndex:idx_permissions_slug_guard"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RolePermission maps roles to permissions.
type RolePermission struct {
	RoleID       uint `gorm:"primaryKey;autoIncrement:false"`
	PermissionID uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Role       Role       `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE"`
	Permission Permission `gorm:"foreignKey:PermissionID;constraint:OnDelete:CASCADE"`
}

// PrincipalRole grants a role to a principal. The (id, type) pair lets one
// table serve multiple principal kinds. A nil ExpiresAt never expires; a
// grant is active only strictly before its expiry instant.
type PrincipalRole struct {
	PrincipalID   string `gorm:"primaryKey;autoIncrement:false"`
	PrincipalType string `gorm:"primaryKey;autoIncrement:false"`
	RoleID        uint   `gorm:"primaryKey;autoIncrement:false;index"`
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Role Role `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE"`
}

// PrincipalPermission grants a permission directly to a principal,
// bypassing roles. Same polymorphic ownership and expiry rules as
// PrincipalRole.
type PrincipalPermission struct {
	PrincipalID   string `gorm:"primaryKey;autoIncrement:false"`
	PrincipalType string `gorm:"primaryKey;autoIncrement:false"`
	PermissionID  uint   `gorm:"primaryKey;autoIncrement:false;index"`
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Permission Permission `gorm:"foreignKey:PermissionID;constraint:OnDelete:CASCADE"`
}
