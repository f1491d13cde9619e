package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

var (
	// ErrTemplateNotFound indicates the template does not exist or is inactive.
	ErrTemplateNotFound = apperrors.New("TEMPLATE_NOT_FOUND", "Permission template not found", http.StatusNotFound)
	// ErrTemplateNameTaken enforces name uniqueness within a scope.
	ErrTemplateNameTaken = apperrors.New("TEMPLATE_NAME_TAKEN", "A template with this name already exists in this scope", http.StatusConflict)
	// ErrTemplateEmpty rejects templates without any members.
	ErrTemplateEmpty = apperrors.New("TEMPLATE_EMPTY", "Template must contain at least one member", http.StatusBadRequest)
)

// TemplateService manages reusable grant bundles and their application.
type TemplateService struct {
	db           *gorm.DB
	auditService *AuditService
	now          func() time.Time
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(db *gorm.DB, audit *AuditService) (*TemplateService, error) {
	if db == nil {
		return nil, errors.New("template service: db is required")
	}
	return &TemplateService{db: db, auditService: audit, now: time.Now}, nil
}

// WithClock overrides the service clock, primarily for tests.
func (s *TemplateService) WithClock(now func() time.Time) *TemplateService {
	if now != nil {
		s.now = now
	}
	return s
}

// TemplateMemberInput is one (permission, resource scope) pair to bundle.
type TemplateMemberInput struct {
	PermissionID  string
	ResourceType  *string
	ScopeMetadata datatypes.JSON
}

// CreateTemplateInput describes the payload accepted by Create. A nil
// OrganizationID makes the template global.
type CreateTemplateInput struct {
	TemplateName   string
	Description    string
	Category       string
	OrganizationID *string
	CreatedBy      string
	Members        []TemplateMemberInput
}

// Create registers a new template with its members. Name uniqueness is
// enforced per scope by the storage-level index; global names only collide
// with other global names.
func (s *TemplateService) Create(ctx context.Context, input CreateTemplateInput) (*models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.TemplateName)
	createdBy := strings.TrimSpace(input.CreatedBy)
	if name == "" || createdBy == "" {
		return nil, apperrors.NewBadRequest("template name and creator are required")
	}
	if len(input.Members) == 0 {
		return nil, ErrTemplateEmpty
	}

	orgID := trimPtr(input.OrganizationID)
	template := &models.PermissionTemplate{
		TemplateName:   name,
		Description:    strings.TrimSpace(input.Description),
		Category:       strings.TrimSpace(input.Category),
		IsGlobal:       orgID == nil,
		OrganizationID: orgID,
		CreatedBy:      createdBy,
		IsActive:       true,
		ScopeKey:       templateScopeKey(orgID),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.validateMembers(ctx, tx, input.Members); err != nil {
			return err
		}
		if err := tx.Create(template).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrTemplateNameTaken
			}
			return fmt.Errorf("template service: create template: %w", err)
		}
		return tx.Create(buildTemplateMembers(template.ID, input.Members)).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &template.CreatedBy,
		Action:   "template.create",
		Resource: template.ID,
		Result:   "success",
		Metadata: map[string]any{"template_name": template.TemplateName, "members": len(input.Members)},
	})

	return s.GetByID(ctx, template.ID)
}

// GetByID loads an active template with its members ordered by position.
func (s *TemplateService) GetByID(ctx context.Context, templateID string) (*models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	var template models.PermissionTemplate
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Members.Permission").
		First(&template, "id = ? AND is_active = ?", templateID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("template service: load template: %w", err)
	}
	return &template, nil
}

// List returns active templates visible to an organization: its own plus all
// global ones. A nil organizationID lists only global templates.
func (s *TemplateService) List(ctx context.Context, organizationID *string) ([]models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("is_active = ?", true)
	if organizationID != nil && strings.TrimSpace(*organizationID) != "" {
		query = query.Where("is_global = ? OR organization_id = ?", true, strings.TrimSpace(*organizationID))
	} else {
		query = query.Where("is_global = ?", true)
	}

	var templates []models.PermissionTemplate
	if err := query.Order("template_name ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("template service: list templates: %w", err)
	}
	return templates, nil
}

// UpdateMembers replaces the template's member set wholesale.
func (s *TemplateService) UpdateMembers(ctx context.Context, templateID string, members []TemplateMemberInput) (*models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	if len(members) == 0 {
		return nil, ErrTemplateEmpty
	}
	if _, err := s.GetByID(ctx, templateID); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.validateMembers(ctx, tx, members); err != nil {
			return err
		}
		if err := tx.Delete(&models.PermissionTemplateMember{}, "template_id = ?", templateID).Error; err != nil {
			return fmt.Errorf("template service: clear members: %w", err)
		}
		return tx.Create(buildTemplateMembers(templateID, members)).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "template.update_members",
		Resource: templateID,
		Result:   "success",
		Metadata: map[string]any{"members": len(members)},
	})

	return s.GetByID(ctx, templateID)
}

// Delete marks the template inactive. Past applications keep their
// SourceTemplateID provenance, so the row itself stays.
func (s *TemplateService) Delete(ctx context.Context, templateID, deletedBy string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.PermissionTemplate{}).
		Where("id = ? AND is_active = ?", templateID, true).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("template service: deactivate template: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTemplateNotFound
	}

	deleter := strings.TrimSpace(deletedBy)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &deleter,
		Action:   "template.delete",
		Resource: templateID,
		Result:   "success",
	})

	return nil
}

// Clone deep-copies a template under a new name, optionally re-scoped to a
// different organization. The source is never mutated.
func (s *TemplateService) Clone(ctx context.Context, templateID, newName string, targetOrganizationID *string, clonedBy string) (*models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	newName = strings.TrimSpace(newName)
	clonedBy = strings.TrimSpace(clonedBy)
	if newName == "" || clonedBy == "" {
		return nil, apperrors.NewBadRequest("new name and cloner are required")
	}

	source, err := s.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	orgID := trimPtr(targetOrganizationID)
	if orgID == nil {
		orgID = source.OrganizationID
	}

	clone := &models.PermissionTemplate{
		TemplateName:   newName,
		Description:    source.Description,
		Category:       source.Category,
		IsGlobal:       orgID == nil,
		OrganizationID: orgID,
		CreatedBy:      clonedBy,
		IsActive:       true,
		ScopeKey:       templateScopeKey(orgID),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(clone).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrTemplateNameTaken
			}
			return fmt.Errorf("template service: create clone: %w", err)
		}
		members := make([]models.PermissionTemplateMember, 0, len(source.Members))
		for _, m := range source.Members {
			members = append(members, models.PermissionTemplateMember{
				TemplateID:    clone.ID,
				PermissionID:  m.PermissionID,
				ResourceType:  m.ResourceType,
				ScopeMetadata: m.ScopeMetadata,
				Position:      m.Position,
			})
		}
		if len(members) == 0 {
			return nil
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &clone.CreatedBy,
		Action:   "template.clone",
		Resource: clone.ID,
		Result:   "success",
		Metadata: map[string]any{"source_template_id": source.ID},
	})

	return s.GetByID(ctx, clone.ID)
}

// ApplyInput describes the payload accepted by ApplyToUser and BatchApply.
type ApplyInput struct {
	OrganizationID string
	ExpiresAt      *time.Time
	Reason         string
	AppliedBy      string
}

// ApplyToUser materialises one grant per template member for the user,
// all-or-nothing inside a single transaction. The user must be a member of
// the target organization.
func (s *TemplateService) ApplyToUser(ctx context.Context, templateID, userID string, input ApplyInput) ([]models.OrganizationPermission, error) {
	ctx = ensureContext(ctx)

	orgID := strings.TrimSpace(input.OrganizationID)
	appliedBy := strings.TrimSpace(input.AppliedBy)
	userID = strings.TrimSpace(userID)
	if orgID == "" || appliedBy == "" || userID == "" {
		return nil, apperrors.NewBadRequest("organization, user, and applier are required")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, apperrors.NewBadRequest("expires_at must be in the future")
	}

	template, err := s.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !template.IsGlobal && template.OrganizationID != nil && *template.OrganizationID != orgID {
		return nil, apperrors.New("TEMPLATE_SCOPE_MISMATCH", "Template is scoped to a different organization", http.StatusUnprocessableEntity)
	}

	var grants []models.OrganizationPermission
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberCount int64
		if err := tx.Model(&models.OrganizationMembership{}).
			Where("organization_id = ? AND user_id = ?", orgID, userID).
			Count(&memberCount).Error; err != nil {
			return fmt.Errorf("template service: check membership: %w", err)
		}
		if memberCount == 0 {
			return ErrNotOrganizationMember
		}

		for _, m := range template.Members {
			grant := models.OrganizationPermission{
				OrganizationID:   orgID,
				UserID:           userID,
				PermissionID:     m.PermissionID,
				ResourceType:     m.ResourceType,
				ScopeMetadata:    m.ScopeMetadata,
				ExpiresAt:        input.ExpiresAt,
				GrantedBy:        appliedBy,
				Reason:           strings.TrimSpace(input.Reason),
				SourceTemplateID: &template.ID,
			}
			if err := tx.Create(&grant).Error; err != nil {
				return fmt.Errorf("template service: create grant: %w", err)
			}
			grants = append(grants, grant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &appliedBy,
		Action:   "template.apply",
		Resource: template.ID,
		Result:   "success",
		Metadata: map[string]any{
			"organization_id": orgID,
			"user_id":         userID,
			"grants":          len(grants),
		},
	})

	return grants, nil
}

// BatchOutcome reports the result of applying a template to one user.
type BatchOutcome struct {
	UserID  string `json:"user_id"`
	Applied int    `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// BatchApply applies the template to each user independently. One user's
// failure never rolls back another's grants; the per-user outcome list tells
// the caller exactly who got what.
func (s *TemplateService) BatchApply(ctx context.Context, templateID string, userIDs []string, input ApplyInput) ([]BatchOutcome, error) {
	ctx = ensureContext(ctx)

	if len(userIDs) == 0 {
		return nil, apperrors.NewBadRequest("at least one user is required")
	}
	if _, err := s.GetByID(ctx, templateID); err != nil {
		return nil, err
	}

	outcomes := make([]BatchOutcome, 0, len(userIDs))
	for _, userID := range userIDs {
		grants, err := s.ApplyToUser(ctx, templateID, userID, input)
		outcome := BatchOutcome{UserID: userID, Applied: len(grants)}
		if err != nil {
			outcome.Error = err.Error()
			outcome.Applied = 0
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// TemplateUsageStats summarises grants traceable to a template.
type TemplateUsageStats struct {
	TemplateID   string `json:"template_id"`
	ActiveGrants int64  `json:"active_grants"`
	UsersHolding int64  `json:"users_holding"`
}

// UsageStats counts non-expired grants created from this template, overall
// or within one organization.
func (s *TemplateService) UsageStats(ctx context.Context, templateID string, organizationID *string) (*TemplateUsageStats, error) {
	ctx = ensureContext(ctx)

	if _, err := s.GetByID(ctx, templateID); err != nil {
		return nil, err
	}

	base := s.db.WithContext(ctx).
		Model(&models.OrganizationPermission{}).
		Where("source_template_id = ?", templateID).
		Where("expires_at IS NULL OR expires_at > ?", s.now())
	if organizationID != nil && strings.TrimSpace(*organizationID) != "" {
		base = base.Where("organization_id = ?", strings.TrimSpace(*organizationID))
	}

	stats := &TemplateUsageStats{TemplateID: templateID}
	if err := base.Session(&gorm.Session{}).Count(&stats.ActiveGrants).Error; err != nil {
		return nil, fmt.Errorf("template service: count grants: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Distinct("user_id").Count(&stats.UsersHolding).Error; err != nil {
		return nil, fmt.Errorf("template service: count holders: %w", err)
	}
	return stats, nil
}

func (s *TemplateService) validateMembers(ctx context.Context, tx *gorm.DB, members []TemplateMemberInput) error {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		id := strings.TrimSpace(m.PermissionID)
		if id == "" {
			return apperrors.NewBadRequest("every member needs a permission id")
		}
		ids = append(ids, id)
	}
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Permission{}).Where("id IN ?", ids).Distinct("id").Count(&count).Error; err != nil {
		return fmt.Errorf("template service: check member permissions: %w", err)
	}
	if int(count) != len(uniqueStrings(ids)) {
		return apperrors.NewBadRequest("one or more member permissions do not exist")
	}
	return nil
}

func buildTemplateMembers(templateID string, members []TemplateMemberInput) []models.PermissionTemplateMember {
	out := make([]models.PermissionTemplateMember, 0, len(members))
	for i, m := range members {
		out = append(out, models.PermissionTemplateMember{
			TemplateID:    templateID,
			PermissionID:  strings.TrimSpace(m.PermissionID),
			ResourceType:  trimPtr(m.ResourceType),
			ScopeMetadata: m.ScopeMetadata,
			Position:      i,
		})
	}
	return out
}

func templateScopeKey(organizationID *string) string {
	if organizationID == nil {
		return models.GlobalScopeKey
	}
	return *organizationID
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
