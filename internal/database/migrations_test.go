package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oakhurst/backoffice/internal/models"
)

func TestAutoMigrateCreatesPermissionTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.OrganizationPermission{},
		&models.PermissionCondition{},
		&models.PermissionDelegation{},
		&models.PermissionRequest{},
		&models.PermissionTemplate{},
		&models.PermissionTemplateMember{},
		&models.UsageLogEntry{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}

func TestAutoMigrateCreatesMembershipColumns(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	require.True(t, migrator.HasColumn(&models.OrganizationMembership{}, "is_primary"))
	require.True(t, migrator.HasColumn(&models.OrganizationMembership{}, "suspended_at"))
	require.True(t, migrator.HasColumn(&models.PermissionRequest{}, "pending_key"))
}
