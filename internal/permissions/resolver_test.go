package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
)

func TestResolverRoleDefaults(t *testing.T) {
	db, resolver := setupResolverTest(t)
	user := seedUser(t, db, "worker")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, user.ID, []string{RoleMember})

	decision, err := resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "orders.view", ResourceRef{}, Context{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, SourceRoleDefault, decision.Source)

	decision, err = resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "orders.edit", ResourceRef{}, Context{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestResolverUnknownUserOrOrgDeniesWithoutError(t *testing.T) {
	_, resolver := setupResolverTest(t)

	decision, err := resolver.HasOrganizationPermission(context.Background(), "ghost", "nowhere", "orders.view", ResourceRef{}, Context{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	perms, err := resolver.EffectiveOrganizationPermissions(context.Background(), "ghost", "nowhere")
	require.NoError(t, err)
	require.Empty(t, perms)

	roles, err := resolver.OrganizationRoles(context.Background(), "ghost", "nowhere")
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestResolverUnknownPermissionErrors(t *testing.T) {
	db, resolver := setupResolverTest(t)
	user := seedUser(t, db, "worker")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, user.ID, []string{RoleMember})

	_, err := resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "warp.drive", ResourceRef{}, Context{})
	require.ErrorIs(t, err, ErrUnknownPermission)
}

func TestResolverOrgGrantWithExpiry(t *testing.T) {
	db, resolver := setupResolverTest(t)
	user := seedUser(t, db, "worker")
	admin := seedUser(t, db, "granter")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, user.ID, []string{RoleMember})
	perm := permissionByKey(t, db, "orders.edit")

	future := time.Now().Add(time.Hour)
	require.NoError(t, db.Create(&models.OrganizationPermission{
		OrganizationID: org.ID,
		UserID:         user.ID,
		PermissionID:   perm.ID,
		GrantedBy:      admin.ID,
		ExpiresAt:      &future,
	}).Error)

	decision, err := resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "orders.edit", ResourceRef{}, Context{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, SourceOrgGrant, decision.Source)

	// Reads filter by validity on their own; an expired grant is inert even
	// before any sweep runs.
	require.NoError(t, db.Model(&models.OrganizationPermission{}).
		Where("user_id = ?", user.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	decision, err = resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "orders.edit", ResourceRef{}, Context{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestResolverResourceScopedGrant(t *testing.T) {
	db, resolver := setupResolverTest(t)
	user := seedUser(t, db, "worker")
	admin := seedUser(t, db, "granter")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, user.ID, []string{RoleMember})
	perm := permissionByKey(t, db, "orders.edit")

	resType := "order"
	resID := "order-1"
	require.NoError(t, db.Create(&models.OrganizationPermission{
		OrganizationID: org.ID,
		UserID:         user.ID,
		PermissionID:   perm.ID,
		ResourceType:   &resType,
		ResourceID:     &resID,
		GrantedBy:      admin.ID,
	}).Error)

	decision, err := resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "orders.edit", ResourceRef{Type: "order", ID: "order-1"}, Context{})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = resolver.HasOrganizationPermission(context.Background(), user.ID, org.ID, "orders.edit", ResourceRef{Type: "order", ID: "order-2"}, Context{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestResolverDelegationWithBusinessHoursCondition(t *testing.T) {
	db, resolver := setupResolverTest(t)
	worker := seedUser(t, db, "worker")
	manager := seedUser(t, db, "manager")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, worker.ID, []string{RoleMember})
	seedMembership(t, db, org.ID, manager.ID, []string{RoleManager})
	perm := permissionByKey(t, db, "orders.edit")

	// Delegation valid across the whole evaluation day; only the attached
	// business-hours condition decides per-call outcomes.
	during := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.PermissionDelegation{
		DelegatorID:  manager.ID,
		DelegateeID:  worker.ID,
		PermissionID: perm.ID,
		ValidFrom:    during.Add(-24 * time.Hour),
		ValidUntil:   during.Add(48 * time.Hour),
	}).Error)

	require.NoError(t, db.Create(&models.PermissionCondition{
		PermissionID:  perm.ID,
		UserID:        &worker.ID,
		ConditionType: models.ConditionTypeTime,
		Config:        datatypes.JSON([]byte(`{"time_start":"09:00","time_end":"17:00","timezone":"UTC"}`)),
		CreatedBy:     manager.ID,
	}).Error)

	decision, err := resolver.HasOrganizationPermission(context.Background(), worker.ID, org.ID, "orders.view", ResourceRef{}, Context{Timestamp: evening})
	require.NoError(t, err)
	require.True(t, decision.Allowed, "role default view is unconditional")

	decision, err = resolver.HasOrganizationPermission(context.Background(), worker.ID, org.ID, "orders.edit", ResourceRef{}, Context{Timestamp: during})
	require.NoError(t, err)
	require.True(t, decision.Allowed, "delegated edit allowed during business hours")
	require.Equal(t, SourceDelegation, decision.Source)

	decision, err = resolver.HasOrganizationPermission(context.Background(), worker.ID, org.ID, "orders.edit", ResourceRef{}, Context{Timestamp: evening})
	require.NoError(t, err)
	require.False(t, decision.Allowed, "delegation is live but the condition gates it")
	require.Equal(t, "condition not satisfied", decision.DenialReason)
}

func TestResolverRevokedDelegationIgnored(t *testing.T) {
	db, resolver := setupResolverTest(t)
	worker := seedUser(t, db, "worker")
	manager := seedUser(t, db, "manager")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, worker.ID, []string{RoleMember})
	perm := permissionByKey(t, db, "orders.edit")

	now := time.Now()
	revoked := now.Add(-time.Minute)
	require.NoError(t, db.Create(&models.PermissionDelegation{
		DelegatorID:  manager.ID,
		DelegateeID:  worker.ID,
		PermissionID: perm.ID,
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
		RevokedAt:    &revoked,
		RevokedBy:    &manager.ID,
	}).Error)

	decision, err := resolver.HasOrganizationPermission(context.Background(), worker.ID, org.ID, "orders.edit", ResourceRef{}, Context{})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestResolverEffectivePermissionsUnion(t *testing.T) {
	db, resolver := setupResolverTest(t)
	worker := seedUser(t, db, "worker")
	manager := seedUser(t, db, "manager")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, worker.ID, []string{RoleMember})
	editPerm := permissionByKey(t, db, "payments.manage")
	delegated := permissionByKey(t, db, "orders.approve")

	require.NoError(t, db.Create(&models.OrganizationPermission{
		OrganizationID: org.ID,
		UserID:         worker.ID,
		PermissionID:   editPerm.ID,
		GrantedBy:      manager.ID,
	}).Error)

	now := time.Now()
	require.NoError(t, db.Create(&models.PermissionDelegation{
		DelegatorID:  manager.ID,
		DelegateeID:  worker.ID,
		PermissionID: delegated.ID,
		ValidFrom:    now.Add(-time.Minute),
		ValidUntil:   now.Add(time.Hour),
	}).Error)

	perms, err := resolver.EffectiveOrganizationPermissions(context.Background(), worker.ID, org.ID)
	require.NoError(t, err)
	require.Contains(t, perms, "orders.view", "role default")
	require.Contains(t, perms, "payments.manage", "explicit grant")
	require.Contains(t, perms, "orders.approve", "live delegation")
	require.NotContains(t, perms, "admin.users")
}

func TestResolverHoldsDirectlyExcludesDelegations(t *testing.T) {
	db, resolver := setupResolverTest(t)
	worker := seedUser(t, db, "worker")
	manager := seedUser(t, db, "manager")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, worker.ID, []string{RoleMember})
	seedMembership(t, db, org.ID, manager.ID, []string{RoleManager})
	perm := permissionByKey(t, db, "orders.edit")

	holds, err := resolver.HoldsDirectly(context.Background(), manager.ID, perm.ID)
	require.NoError(t, err)
	require.True(t, holds, "manager role default")

	now := time.Now()
	require.NoError(t, db.Create(&models.PermissionDelegation{
		DelegatorID:  manager.ID,
		DelegateeID:  worker.ID,
		PermissionID: perm.ID,
		ValidFrom:    now.Add(-time.Minute),
		ValidUntil:   now.Add(time.Hour),
	}).Error)

	holds, err = resolver.HoldsDirectly(context.Background(), worker.ID, perm.ID)
	require.NoError(t, err)
	require.False(t, holds, "a delegation alone is not a direct hold")
}

func TestResolverIsAdmin(t *testing.T) {
	db, resolver := setupResolverTest(t)

	root := models.User{Username: "root", Email: "root@example.com", Password: "x", IsRoot: true}
	require.NoError(t, db.Create(&root).Error)

	worker := seedUser(t, db, "worker")
	orgAdmin := seedUser(t, db, "org-admin")
	org := seedOrganization(t, db, "Oakhurst Mill")
	seedMembership(t, db, org.ID, worker.ID, []string{RoleMember})
	seedMembership(t, db, org.ID, orgAdmin.ID, []string{RoleAdmin})

	ok, err := resolver.IsAdmin(context.Background(), root.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = resolver.IsAdmin(context.Background(), orgAdmin.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = resolver.IsAdmin(context.Background(), worker.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = resolver.IsAdmin(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func setupResolverTest(t *testing.T) (*gorm.DB, *Resolver) {
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
	))

	catalog := DefaultCatalog()
	require.NoError(t, Sync(context.Background(), db, catalog))

	resolver, err := NewResolver(db, catalog)
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
