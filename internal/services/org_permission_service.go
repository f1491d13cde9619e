package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

var (
	// ErrNotOrganizationMember is returned when granting or revoking against
	// a user who has no membership row in the organization.
	ErrNotOrganizationMember = apperrors.New("ORG_NOT_MEMBER", "User is not a member of this organization", http.StatusUnprocessableEntity)
	// ErrGrantNotFound indicates the targeted grant row does not exist.
	ErrGrantNotFound = apperrors.New("ORG_GRANT_NOT_FOUND", "Organization permission grant not found", http.StatusNotFound)
)

// OrgPermissionService manages organization-scoped grants and the read
// projections the resolver computes from them.
type OrgPermissionService struct {
	db           *gorm.DB
	resolver     *permissions.Resolver
	auditService *AuditService
	now          func() time.Time
}

// NewOrgPermissionService constructs an OrgPermissionService.
func NewOrgPermissionService(db *gorm.DB, resolver *permissions.Resolver, audit *AuditService) (*OrgPermissionService, error) {
	if db == nil {
		return nil, errors.New("org permission service: db is required")
	}
	if resolver == nil {
		return nil, errors.New("org permission service: resolver is required")
	}
	return &OrgPermissionService{
		db:           db,
		resolver:     resolver,
		auditService: audit,
		now:          time.Now,
	}, nil
}

// WithClock overrides the service clock, primarily for tests.
func (s *OrgPermissionService) WithClock(now func() time.Time) *OrgPermissionService {
	if now != nil {
		s.now = now
	}
	return s
}

// GrantInput describes the payload accepted by Grant.
type GrantInput struct {
	OrganizationID string
	UserID         string
	PermissionID   string
	ResourceType   *string
	ResourceID     *string
	ScopeMetadata  map[string]any
	ExpiresAt      *time.Time
	GrantedBy      string
	Reason         string
}

// Grant creates an organization-scoped permission grant. The target user
// must already be a member of the organization; admin authorization is the
// caller's responsibility (enforced at the transport layer).
func (s *OrgPermissionService) Grant(ctx context.Context, input GrantInput) (*models.OrganizationPermission, error) {
	ctx = ensureContext(ctx)

	orgID := strings.TrimSpace(input.OrganizationID)
	userID := strings.TrimSpace(input.UserID)
	permissionID := strings.TrimSpace(input.PermissionID)
	grantedBy := strings.TrimSpace(input.GrantedBy)
	if orgID == "" || userID == "" || permissionID == "" || grantedBy == "" {
		return nil, apperrors.NewBadRequest("organization, user, permission, and granter are required")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, apperrors.NewBadRequest("expires_at must be in the future")
	}

	if err := s.requireMembership(ctx, s.db, orgID, userID); err != nil {
		return nil, err
	}

	var permCount int64
	if err := s.db.WithContext(ctx).Model(&models.Permission{}).Where("id = ?", permissionID).Count(&permCount).Error; err != nil {
		return nil, fmt.Errorf("org permission service: check permission: %w", err)
	}
	if permCount == 0 {
		return nil, apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
	}

	grant := &models.OrganizationPermission{
		OrganizationID: orgID,
		UserID:         userID,
		PermissionID:   permissionID,
		ResourceType:   trimPtr(input.ResourceType),
		ResourceID:     trimPtr(input.ResourceID),
		ExpiresAt:      input.ExpiresAt,
		GrantedBy:      grantedBy,
		Reason:         strings.TrimSpace(input.Reason),
	}
	if len(input.ScopeMetadata) > 0 {
		data, err := json.Marshal(input.ScopeMetadata)
		if err != nil {
			return nil, fmt.Errorf("org permission service: encode scope metadata: %w", err)
		}
		grant.ScopeMetadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		return nil, fmt.Errorf("org permission service: create grant: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &grant.GrantedBy,
		Action:   "org_permission.grant",
		Resource: grant.ID,
		Result:   "success",
		Metadata: map[string]any{
			"organization_id": orgID,
			"user_id":         userID,
			"permission_id":   permissionID,
		},
	})

	return grant, nil
}

// Revoke deletes a grant. The grant's user must still be a member so a
// revocation against a non-member surfaces as an explicit error.
func (s *OrgPermissionService) Revoke(ctx context.Context, grantID, revokedBy, reason string) error {
	ctx = ensureContext(ctx)

	var grant models.OrganizationPermission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&grant, "id = ?", grantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGrantNotFound
			}
			return fmt.Errorf("org permission service: load grant: %w", err)
		}
		if err := s.requireMembership(ctx, tx, grant.OrganizationID, grant.UserID); err != nil {
			return err
		}
		if err := tx.Delete(&models.OrganizationPermission{}, "id = ?", grantID).Error; err != nil {
			return fmt.Errorf("org permission service: delete grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	revoker := strings.TrimSpace(revokedBy)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &revoker,
		Action:   "org_permission.revoke",
		Resource: grant.ID,
		Result:   "success",
		Metadata: map[string]any{
			"organization_id": grant.OrganizationID,
			"user_id":         grant.UserID,
			"permission_id":   grant.PermissionID,
			"reason":          reason,
		},
	})

	return nil
}

// ListForUser returns the raw non-expired grant rows for a user in an
// organization, permission preloaded, newest first.
func (s *OrgPermissionService) ListForUser(ctx context.Context, organizationID, userID string) ([]models.OrganizationPermission, error) {
	ctx = ensureContext(ctx)

	var grants []models.OrganizationPermission
	err := s.db.WithContext(ctx).
		Preload("Permission").
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Order("created_at DESC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("org permission service: list grants: %w", err)
	}
	return grants, nil
}

// EffectivePermissions projects the user's effective permission key set for
// the organization (role defaults plus grants plus live delegations).
func (s *OrgPermissionService) EffectivePermissions(ctx context.Context, userID, organizationID string) ([]string, error) {
	return s.resolver.EffectiveOrganizationPermissions(ensureContext(ctx), userID, organizationID)
}

// Roles returns the user's role keys within the organization.
func (s *OrgPermissionService) Roles(ctx context.Context, userID, organizationID string) ([]string, error) {
	return s.resolver.OrganizationRoles(ensureContext(ctx), userID, organizationID)
}

// CleanupExpired removes grants past their expiry in one bounded delete.
// Safe to run repeatedly and concurrently; reads never see expired rows
// anyway, so the sweep only reclaims storage.
func (s *OrgPermissionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Delete(&models.OrganizationPermission{})
	if result.Error != nil {
		return 0, fmt.Errorf("org permission service: cleanup expired grants: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *OrgPermissionService) requireMembership(ctx context.Context, tx *gorm.DB, organizationID, userID string) error {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.OrganizationMembership{}).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("org permission service: check membership: %w", err)
	}
	if count == 0 {
		return ErrNotOrganizationMember
	}
	return nil
}
