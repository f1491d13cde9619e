package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

var (
	// ErrOrganizationNotFound indicates the tenant does not exist.
	ErrOrganizationNotFound = apperrors.New("ORG_NOT_FOUND", "Organization not found", http.StatusNotFound)
	// ErrMembershipNotFound indicates the user has no membership row here.
	ErrMembershipNotFound = apperrors.New("ORG_MEMBERSHIP_NOT_FOUND", "Membership not found", http.StatusNotFound)
	// ErrAlreadyMember rejects duplicate membership rows for the same pair.
	ErrAlreadyMember = apperrors.New("ORG_ALREADY_MEMBER", "User is already a member of this organization", http.StatusConflict)
	// ErrMembershipSuspended rejects operations that need an active membership.
	ErrMembershipSuspended = apperrors.New("ORG_MEMBERSHIP_SUSPENDED", "Membership is suspended", http.StatusConflict)
)

// OrganizationService manages tenants and their membership lifecycle.
type OrganizationService struct {
	db           *gorm.DB
	catalog      *permissions.Catalog
	auditService *AuditService
	now          func() time.Time
}

// NewOrganizationService constructs an OrganizationService. The catalog is
// used to validate role keys handed to membership mutations.
func NewOrganizationService(db *gorm.DB, catalog *permissions.Catalog, audit *AuditService) (*OrganizationService, error) {
	if db == nil {
		return nil, errors.New("organization service: db is required")
	}
	if catalog == nil {
		return nil, errors.New("organization service: catalog is required")
	}
	return &OrganizationService{
		db:           db,
		catalog:      catalog,
		auditService: audit,
		now:          time.Now,
	}, nil
}

// Create registers a new organization.
func (s *OrganizationService) Create(ctx context.Context, name, description string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewBadRequest("organization name is required")
	}

	org := &models.Organization{
		Name:        name,
		Description: strings.TrimSpace(description),
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		return nil, fmt.Errorf("organization service: create organization: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "organization.create",
		Resource: org.ID,
		Result:   "success",
		Metadata: map[string]any{"name": org.Name},
	})

	return org, nil
}

// List returns all organizations ordered by name.
func (s *OrganizationService) List(ctx context.Context) ([]models.Organization, error) {
	ctx = ensureContext(ctx)

	var orgs []models.Organization
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("organization service: list organizations: %w", err)
	}
	return orgs, nil
}

// GetByID loads one organization.
func (s *OrganizationService) GetByID(ctx context.Context, organizationID string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}
	return &org, nil
}

// AddMemberInput describes the payload accepted by AddMember.
type AddMemberInput struct {
	OrganizationID string
	UserID         string
	Roles          []string
	IsPrimary      bool
	InvitedBy      *string
}

// AddMember creates a membership. Role keys must exist in the catalog; the
// storage-level unique index on (organization, user) resolves concurrent
// duplicate joins.
func (s *OrganizationService) AddMember(ctx context.Context, input AddMemberInput) (*models.OrganizationMembership, error) {
	ctx = ensureContext(ctx)

	orgID := strings.TrimSpace(input.OrganizationID)
	userID := strings.TrimSpace(input.UserID)
	if orgID == "" || userID == "" {
		return nil, apperrors.NewBadRequest("organization and user are required")
	}
	for _, roleKey := range input.Roles {
		if !s.catalog.HasRole(roleKey) {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", roleKey))
		}
	}

	if _, err := s.GetByID(ctx, orgID); err != nil {
		return nil, err
	}
	var userCount int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&userCount).Error; err != nil {
		return nil, fmt.Errorf("organization service: check user: %w", err)
	}
	if userCount == 0 {
		return nil, apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	}

	membership := &models.OrganizationMembership{
		OrganizationID: orgID,
		UserID:         userID,
		InvitedBy:      trimPtr(input.InvitedBy),
		Status:         models.MembershipStatusActive,
	}
	if err := membership.SetRoleKeys(input.Roles); err != nil {
		return nil, fmt.Errorf("organization service: encode roles: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsPrimary {
			if err := clearPrimaryMembership(tx, userID); err != nil {
				return err
			}
			membership.IsPrimary = true
		}
		if err := tx.Create(membership).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("organization service: create membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "organization.member.add",
		Resource: membership.ID,
		Result:   "success",
		Metadata: map[string]any{
			"organization_id": orgID,
			"user_id":         userID,
			"roles":           input.Roles,
		},
	})

	return membership, nil
}

// SuspendMember marks a membership suspended; the resolver then ignores it.
func (s *OrganizationService) SuspendMember(ctx context.Context, organizationID, userID, reason string) (*models.OrganizationMembership, error) {
	ctx = ensureContext(ctx)

	membership, err := s.membership(ctx, organizationID, userID)
	if err != nil {
		return nil, err
	}
	if membership.Status == models.MembershipStatusSuspended {
		return nil, ErrMembershipSuspended
	}

	now := s.now()
	updates := map[string]any{
		"status":         models.MembershipStatusSuspended,
		"suspended_at":   now,
		"suspend_reason": strings.TrimSpace(reason),
	}
	if err := s.db.WithContext(ctx).Model(membership).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("organization service: suspend membership: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "organization.member.suspend",
		Resource: membership.ID,
		Result:   "success",
		Metadata: map[string]any{"organization_id": organizationID, "user_id": userID, "reason": reason},
	})

	return s.membership(ctx, organizationID, userID)
}

// ReactivateMember restores a suspended membership to active.
func (s *OrganizationService) ReactivateMember(ctx context.Context, organizationID, userID string) (*models.OrganizationMembership, error) {
	ctx = ensureContext(ctx)

	membership, err := s.membership(ctx, organizationID, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":         models.MembershipStatusActive,
		"suspended_at":   nil,
		"suspend_reason": "",
	}
	if err := s.db.WithContext(ctx).Model(membership).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("organization service: reactivate membership: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "organization.member.reactivate",
		Resource: membership.ID,
		Result:   "success",
		Metadata: map[string]any{"organization_id": organizationID, "user_id": userID},
	})

	return s.membership(ctx, organizationID, userID)
}

// SetPrimary makes this membership the user's primary one. The previous
// primary row, if any, is cleared inside the same transaction so the user
// never holds two primary rows.
func (s *OrganizationService) SetPrimary(ctx context.Context, organizationID, userID string) (*models.OrganizationMembership, error) {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership models.OrganizationMembership
		err := tx.First(&membership, "organization_id = ? AND user_id = ?", organizationID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMembershipNotFound
		}
		if err != nil {
			return fmt.Errorf("organization service: load membership: %w", err)
		}
		if !membership.IsActive() {
			return ErrMembershipSuspended
		}
		if err := clearPrimaryMembership(tx, userID); err != nil {
			return err
		}
		return tx.Model(&membership).Update("is_primary", true).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "organization.member.set_primary",
		Resource: userID,
		Result:   "success",
		Metadata: map[string]any{"organization_id": organizationID},
	})

	return s.membership(ctx, organizationID, userID)
}

// RemoveMember deletes the membership and every grant the user held in the
// organization, in one transaction.
func (s *OrganizationService) RemoveMember(ctx context.Context, organizationID, userID string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.OrganizationMembership{}, "organization_id = ? AND user_id = ?", organizationID, userID)
		if result.Error != nil {
			return fmt.Errorf("organization service: delete membership: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrMembershipNotFound
		}
		if err := tx.Delete(&models.OrganizationPermission{}, "organization_id = ? AND user_id = ?", organizationID, userID).Error; err != nil {
			return fmt.Errorf("organization service: delete grants: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "organization.member.remove",
		Resource: userID,
		Result:   "success",
		Metadata: map[string]any{"organization_id": organizationID},
	})

	return nil
}

// Members lists memberships for one organization with users preloaded.
func (s *OrganizationService) Members(ctx context.Context, organizationID string) ([]models.OrganizationMembership, error) {
	ctx = ensureContext(ctx)

	var memberships []models.OrganizationMembership
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("organization_id = ?", organizationID).
		Order("created_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("organization service: list members: %w", err)
	}
	return memberships, nil
}

// MembershipsForUser lists every organization a user belongs to.
func (s *OrganizationService) MembershipsForUser(ctx context.Context, userID string) ([]models.OrganizationMembership, error) {
	ctx = ensureContext(ctx)

	var memberships []models.OrganizationMembership
	err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("user_id = ?", userID).
		Order("is_primary DESC, created_at ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("organization service: list user memberships: %w", err)
	}
	return memberships, nil
}

func (s *OrganizationService) membership(ctx context.Context, organizationID, userID string) (*models.OrganizationMembership, error) {
	var membership models.OrganizationMembership
	err := s.db.WithContext(ctx).First(&membership, "organization_id = ? AND user_id = ?", organizationID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: load membership: %w", err)
	}
	return &membership, nil
}

func clearPrimaryMembership(tx *gorm.DB, userID string) error {
	err := tx.Model(&models.OrganizationMembership{}).
		Where("user_id = ? AND is_primary = ?", userID, true).
		Update("is_primary", false).Error
	if err != nil {
		return fmt.Errorf("organization service: clear primary membership: %w", err)
	}
	return nil
}
