package database

import (
	"context"

	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Permission{},
		&models.Organization{},
		&models.OrganizationMembership{},
		&models.OrganizationPermission{},
		&models.PermissionCondition{},
		&models.PermissionDelegation{},
		&models.PermissionRequest{},
		&models.PermissionTemplate{},
		&models.PermissionTemplateMember{},
		&models.UsageLogEntry{},
		&models.AuditLog{},
		&models.SystemSetting{},
	)
}

// SeedData synchronises the permission catalog into the database and ensures
// the catalog's roles exist as system roles.
func SeedData(db *gorm.DB) error {
	catalog := permissions.DefaultCatalog()

	if err := permissions.Sync(context.Background(), db, catalog); err != nil {
		return err
	}

	if err := seedSystemRoles(db, catalog); err != nil {
		return err
	}

	return seedRootUser(db)
}
