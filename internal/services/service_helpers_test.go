package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
)

// setupServiceTest opens an in-memory database with the full permission
// schema migrated and the default catalog synced. Tests seed the rest.
func setupServiceTest(t *testing.T) (*gorm.DB, *permissions.Resolver) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
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
	))

	catalog := permissions.DefaultCatalog()
	require.NoError(t, permissions.Sync(context.Background(), db, catalog))

	resolver, err := permissions.NewResolver(db, catalog)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db, resolver
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := models.User{Username: username, Email: username + "@example.com", Password: "x"}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func seedOrganization(t *testing.T, db *gorm.DB, name string) *models.Organization {
	t.Helper()
	org := models.Organization{Name: name}
	require.NoError(t, db.Create(&org).Error)
	return &org
}

func seedMembership(t *testing.T, db *gorm.DB, orgID, userID string, roles []string) *models.OrganizationMembership {
	t.Helper()
	membership := models.OrganizationMembership{
		OrganizationID: orgID,
		UserID:         userID,
		Status:         models.MembershipStatusActive,
	}
	require.NoError(t, membership.SetRoleKeys(roles))
	require.NoError(t, db.Create(&membership).Error)
	return &membership
}

func permissionByKey(t *testing.T, db *gorm.DB, key string) *models.Permission {
	t.Helper()
	var perm models.Permission
	require.NoError(t, db.First(&perm, "key = ?", key).Error)
	return &perm
}

func newTestAuditService(t *testing.T, db *gorm.DB) *AuditService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	return audit
}
