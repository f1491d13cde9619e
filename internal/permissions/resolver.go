package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
)

// Grant sources, in layering order.
const (
	SourceRoleDefault = "role_default"
	SourceOrgGrant    = "org_grant"
	SourceDelegation  = "delegation"
)

// ResourceRef optionally narrows a check to a specific resource.
type ResourceRef struct {
	Type string
	ID   string
}

// Decision is the outcome of a single permission check.
type Decision struct {
	Allowed      bool
	Source       string
	DenialReason string
}

// Resolver computes a principal's effective permissions within an
// organization by layering catalog role defaults, organization-scoped grants,
// and live delegations, then gating the result on any attached conditions.
type Resolver struct {
	db      *gorm.DB
	catalog *Catalog
	now     func() time.Time
}

// NewResolver constructs a resolver backed by the provided database and catalog.
func NewResolver(db *gorm.DB, catalog *Catalog) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("permission resolver: db is required")
	}
	if catalog == nil {
		return nil, errors.New("permission resolver: catalog is required")
	}
	return &Resolver{db: db, catalog: catalog, now: time.Now}, nil
}

// WithClock overrides the resolver's clock, primarily for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	if now != nil {
		r.now = now
	}
	return r
}

// Catalog exposes the injected catalog to collaborators.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// HasOrganizationPermission answers "can this user exercise this permission in
// this organization right now". Unknown users, organizations, or memberships
// deny without error. A grant whose attached condition fails is treated as
// absent for this call only.
func (r *Resolver) HasOrganizationPermission(ctx context.Context, userID, orgID, permissionKey string, resource ResourceRef, evalCtx Context) (Decision, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	permissionKey = strings.TrimSpace(permissionKey)
	if userID == "" || orgID == "" || permissionKey == "" {
		return Decision{DenialReason: "missing user, organization, or permission"}, nil
	}

	def, ok := r.catalog.Lookup(permissionKey)
	if !ok {
		return Decision{}, fmt.Errorf("%w %q", ErrUnknownPermission, permissionKey)
	}

	perm, err := r.permissionRow(ctx, def.Key)
	if err != nil {
		return Decision{}, err
	}
	if perm == nil {
		return Decision{DenialReason: "permission not provisioned"}, nil
	}

	membership, err := r.activeMembership(ctx, userID, orgID)
	if err != nil {
		return Decision{}, err
	}

	if evalCtx.Timestamp.IsZero() {
		evalCtx.Timestamp = r.now()
	}
	now := evalCtx.Timestamp

	var roleKeys []string
	source := ""

	if membership != nil {
		roleKeys = membership.RoleKeys()
		for _, roleKey := range roleKeys {
			if containsString(r.catalog.RoleDefaults(roleKey), def.Key) {
				source = SourceRoleDefault
				break
			}
		}
	}

	if source == "" && membership != nil {
		granted, err := r.hasOrgGrant(ctx, userID, orgID, perm.ID, resource, now)
		if err != nil {
			return Decision{}, err
		}
		if granted {
			source = SourceOrgGrant
		}
	}

	if source == "" {
		delegated, err := r.hasLiveDelegation(ctx, userID, perm.ID, resource, now)
		if err != nil {
			return Decision{}, err
		}
		if delegated {
			source = SourceDelegation
		}
	}

	if source == "" {
		return Decision{DenialReason: "no grant"}, nil
	}

	conds, err := r.attachedConditions(ctx, perm.ID, userID, roleKeys)
	if err != nil {
		return Decision{}, err
	}
	if !EvaluateConditions(conds, evalCtx) {
		return Decision{Source: source, DenialReason: "condition not satisfied"}, nil
	}

	return Decision{Allowed: true, Source: source}, nil
}

// EffectiveOrganizationPermissions projects the distinct permission keys a
// user currently holds within an organization. Conditions are call-time
// gates and are not applied to the projection.
func (r *Resolver) EffectiveOrganizationPermissions(ctx context.Context, userID, orgID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" || orgID == "" {
		return nil, nil
	}

	now := r.now()
	keys := make(map[string]struct{})

	membership, err := r.activeMembership(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}

	if membership != nil {
		for _, roleKey := range membership.RoleKeys() {
			for _, key := range r.catalog.RoleDefaults(roleKey) {
				keys[key] = struct{}{}
			}
		}

		var grants []models.OrganizationPermission
		err = r.db.WithContext(ctx).
			Preload("Permission").
			Where("organization_id = ? AND user_id = ?", orgID, userID).
			Where("expires_at IS NULL OR expires_at > ?", now).
			Find(&grants).Error
		if err != nil {
			return nil, fmt.Errorf("permission resolver: load grants: %w", err)
		}
		for i := range grants {
			if grants[i].Permission != nil {
				keys[grants[i].Permission.Key] = struct{}{}
			}
		}
	}

	var delegations []models.PermissionDelegation
	err = r.db.WithContext(ctx).
		Preload("Permission").
		Where("delegatee_id = ? AND revoked_at IS NULL", userID).
		Where("valid_from <= ? AND valid_until > ?", now, now).
		Find(&delegations).Error
	if err != nil {
		return nil, fmt.Errorf("permission resolver: load delegations: %w", err)
	}
	for i := range delegations {
		if delegations[i].Permission != nil {
			keys[delegations[i].Permission.Key] = struct{}{}
		}
	}

	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// OrganizationRoles returns the role keys a user holds within an organization.
// Unknown users or organizations yield an empty result, not an error.
func (r *Resolver) OrganizationRoles(ctx context.Context, userID, orgID string) ([]string, error) {
	membership, err := r.activeMembership(ctx, userID, orgID)
	if err != nil || membership == nil {
		return nil, err
	}
	return membership.RoleKeys(), nil
}

// HoldsDirectly reports whether a user holds the permission through a role
// default or an organization grant, excluding delegations. Delegation is
// non-transitive: only a direct holder may delegate.
func (r *Resolver) HoldsDirectly(ctx context.Context, userID, permissionID string) (bool, error) {
	var perm models.Permission
	if err := r.db.WithContext(ctx).First(&perm, "id = ?", permissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("permission resolver: load permission: %w", err)
	}

	var memberships []models.OrganizationMembership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.MembershipStatusActive).
		Find(&memberships).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: load memberships: %w", err)
	}

	for i := range memberships {
		for _, roleKey := range memberships[i].RoleKeys() {
			if containsString(r.catalog.RoleDefaults(roleKey), perm.Key) {
				return true, nil
			}
		}
	}

	var count int64
	err = r.db.WithContext(ctx).
		Model(&models.OrganizationPermission{}).
		Where("user_id = ? AND permission_id = ?", userID, permissionID).
		Where("expires_at IS NULL OR expires_at > ?", r.now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: count grants: %w", err)
	}
	return count > 0, nil
}

// IsAdmin reports whether the user carries administrative privilege: the root
// flag, a global admin role, or an admin role in any active membership. This
// is the single privilege check behind every privileged operation.
func (r *Resolver) IsAdmin(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}

	var user models.User
	err := r.db.WithContext(ctx).Preload("Roles").First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("permission resolver: load user: %w", err)
	}

	if user.IsRoot {
		return true, nil
	}
	for _, role := range user.Roles {
		if r.catalog.IsAdminRole(role.Key) {
			return true, nil
		}
	}

	var memberships []models.OrganizationMembership
	err = r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.MembershipStatusActive).
		Find(&memberships).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: load memberships: %w", err)
	}
	for i := range memberships {
		for _, roleKey := range memberships[i].RoleKeys() {
			if r.catalog.IsAdminRole(roleKey) {
				return true, nil
			}
		}
	}

	return false, nil
}

func (r *Resolver) permissionRow(ctx context.Context, key string) (*models.Permission, error) {
	var perm models.Permission
	err := r.db.WithContext(ctx).First(&perm, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission resolver: load permission: %w", err)
	}
	return &perm, nil
}

func (r *Resolver) activeMembership(ctx context.Context, userID, orgID string) (*models.OrganizationMembership, error) {
	var membership models.OrganizationMembership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ? AND status = ?", userID, orgID, models.MembershipStatusActive).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("permission resolver: load membership: %w", err)
	}
	return &membership, nil
}

func (r *Resolver) hasOrgGrant(ctx context.Context, userID, orgID, permissionID string, resource ResourceRef, now time.Time) (bool, error) {
	var grants []models.OrganizationPermission
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ? AND permission_id = ?", orgID, userID, permissionID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Find(&grants).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: load grants: %w", err)
	}
	for i := range grants {
		if grants[i].MatchesResource(resource.Type, resource.ID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) hasLiveDelegation(ctx context.Context, userID, permissionID string, resource ResourceRef, now time.Time) (bool, error) {
	var delegations []models.PermissionDelegation
	err := r.db.WithContext(ctx).
		Where("delegatee_id = ? AND permission_id = ? AND revoked_at IS NULL", userID, permissionID).
		Where("valid_from <= ? AND valid_until > ?", now, now).
		Find(&delegations).Error
	if err != nil {
		return false, fmt.Errorf("permission resolver: load delegations: %w", err)
	}
	for i := range delegations {
		if delegations[i].MatchesResource(resource.Type, resource.ID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) attachedConditions(ctx context.Context, permissionID, userID string, roleKeys []string) ([]models.PermissionCondition, error) {
	query := r.db.WithContext(ctx).Where("permission_id = ?", permissionID)
	if len(roleKeys) > 0 {
		query = query.Where("user_id = ? OR role_key IN ?", userID, roleKeys)
	} else {
		query = query.Where("user_id = ?", userID)
	}

	var conds []models.PermissionCondition
	if err := query.Find(&conds).Error; err != nil {
		return nil, fmt.Errorf("permission resolver: load conditions: %w", err)
	}
	return conds, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
