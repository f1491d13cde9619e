package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
)

var (
	// ErrConditionNotFound indicates the referenced condition does not exist.
	ErrConditionNotFound = apperrors.New("CONDITION_NOT_FOUND", "Permission condition not found", http.StatusNotFound)
	// ErrConditionTargetInvalid enforces the exactly-one-of rule: a condition
	// targets a specific user or a role, never both or neither.
	ErrConditionTargetInvalid = apperrors.New("CONDITION_TARGET_INVALID", "Condition must target exactly one of user or role", http.StatusBadRequest)
)

// ConditionService manages the conditions attached to permissions and
// evaluates them against call contexts.
type ConditionService struct {
	db           *gorm.DB
	catalog      *permissions.Catalog
	auditService *AuditService
}

// NewConditionService constructs a ConditionService.
func NewConditionService(db *gorm.DB, catalog *permissions.Catalog, audit *AuditService) (*ConditionService, error) {
	if db == nil {
		return nil, errors.New("condition service: db is required")
	}
	if catalog == nil {
		return nil, errors.New("condition service: catalog is required")
	}
	return &ConditionService{db: db, catalog: catalog, auditService: audit}, nil
}

// AddConditionInput describes the payload accepted by Add. Config carries
// the variant payload for ConditionType and is validated before storage.
type AddConditionInput struct {
	PermissionID  string
	UserID        *string
	RoleKey       *string
	ConditionType string
	Config        map[string]any
	CreatedBy     string
}

// Add attaches a condition to a permission. The config is decoded and
// validated here so evaluation never meets an undecodable row it did not
// create itself.
func (s *ConditionService) Add(ctx context.Context, input AddConditionInput) (*models.PermissionCondition, error) {
	ctx = ensureContext(ctx)

	permissionID := strings.TrimSpace(input.PermissionID)
	createdBy := strings.TrimSpace(input.CreatedBy)
	if permissionID == "" || createdBy == "" {
		return nil, apperrors.NewBadRequest("permission and creator are required")
	}

	userID := trimPtr(input.UserID)
	roleKey := trimPtr(input.RoleKey)
	if (userID == nil) == (roleKey == nil) {
		return nil, ErrConditionTargetInvalid
	}
	if roleKey != nil && !s.catalog.HasRole(*roleKey) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", *roleKey))
	}

	var permCount int64
	if err := s.db.WithContext(ctx).Model(&models.Permission{}).Where("id = ?", permissionID).Count(&permCount).Error; err != nil {
		return nil, fmt.Errorf("condition service: check permission: %w", err)
	}
	if permCount == 0 {
		return nil, apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
	}

	raw, err := json.Marshal(input.Config)
	if err != nil {
		return nil, fmt.Errorf("condition service: encode config: %w", err)
	}
	cfg, err := permissions.DecodeConditionConfig(input.ConditionType, raw)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	condition := &models.PermissionCondition{
		PermissionID:  permissionID,
		UserID:        userID,
		RoleKey:       roleKey,
		ConditionType: input.ConditionType,
		Config:        datatypes.JSON(raw),
		CreatedBy:     createdBy,
	}
	if err := s.db.WithContext(ctx).Create(condition).Error; err != nil {
		return nil, fmt.Errorf("condition service: create condition: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &condition.CreatedBy,
		Action:   "condition.create",
		Resource: condition.ID,
		Result:   "success",
		Metadata: map[string]any{
			"permission_id":  permissionID,
			"condition_type": input.ConditionType,
		},
	})

	return condition, nil
}

// List returns every condition attached to a permission, oldest first.
func (s *ConditionService) List(ctx context.Context, permissionID string) ([]models.PermissionCondition, error) {
	ctx = ensureContext(ctx)

	var conditions []models.PermissionCondition
	err := s.db.WithContext(ctx).
		Where("permission_id = ?", permissionID).
		Order("created_at ASC").
		Find(&conditions).Error
	if err != nil {
		return nil, fmt.Errorf("condition service: list conditions: %w", err)
	}
	return conditions, nil
}

// Delete removes a condition permanently.
func (s *ConditionService) Delete(ctx context.Context, conditionID, deletedBy string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Delete(&models.PermissionCondition{}, "id = ?", conditionID)
	if result.Error != nil {
		return fmt.Errorf("condition service: delete condition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConditionNotFound
	}

	deleter := strings.TrimSpace(deletedBy)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &deleter,
		Action:   "condition.delete",
		Resource: conditionID,
		Result:   "success",
	})

	return nil
}

// Evaluate runs every condition attached to the permission that applies to
// the user (user-targeted rows for them, role-targeted rows for their roles)
// against the supplied context. Zero applicable conditions pass.
func (s *ConditionService) Evaluate(ctx context.Context, permissionID, userID string, roleKeys []string, evalCtx permissions.Context) (bool, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Where("permission_id = ?", permissionID)
	if len(roleKeys) > 0 {
		query = query.Where("user_id = ? OR role_key IN ?", userID, roleKeys)
	} else {
		query = query.Where("user_id = ?", userID)
	}

	var conditions []models.PermissionCondition
	if err := query.Find(&conditions).Error; err != nil {
		return false, fmt.Errorf("condition service: load conditions: %w", err)
	}

	return permissions.EvaluateConditions(conditions, evalCtx), nil
}
