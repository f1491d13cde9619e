package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/models"
	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/internal/services"
	apperrors "github.com/oakhurst/backoffice/pkg/errors"
	"github.com/oakhurst/backoffice/pkg/metrics"
	"github.com/oakhurst/backoffice/pkg/response"
)

// PermissionHandler exposes the catalog registry and per-organization checks.
type PermissionHandler struct {
	db       *gorm.DB
	resolver *permissions.Resolver
	usage    *services.UsageService
}

func NewPermissionHandler(db *gorm.DB, resolver *permissions.Resolver) (*PermissionHandler, error) {
	if resolver == nil {
		return nil, errors.New("permission handler: resolver is required")
	}
	usage, err := services.NewUsageService(db)
	if err != nil {
		return nil, err
	}
	return &PermissionHandler{db: db, resolver: resolver, usage: usage}, nil
}

type registryEntry struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Deprecated  bool   `json:"deprecated"`
}

// GET /api/permissions/registry
func (h *PermissionHandler) Registry(c *gin.Context) {
	defs := h.resolver.Catalog().Definitions()
	entries := make([]registryEntry, 0, len(defs))
	for _, def := range defs {
		entries = append(entries, registryEntry{
			Key:         def.Key,
			Name:        def.Name,
			Description: def.Description,
			Deprecated:  def.Deprecated,
		})
	}
	response.Success(c, http.StatusOK, entries)
}

type roleEntry struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
}

// GET /api/permissions/roles
func (h *PermissionHandler) Roles(c *gin.Context) {
	catalog := h.resolver.Catalog()
	roles := catalog.Roles()
	entries := make([]roleEntry, 0, len(roles))
	for _, role := range roles {
		entries = append(entries, roleEntry{
			Key:         role.RoleKey,
			Name:        role.Name,
			Permissions: role.Permissions,
			IsAdmin:     catalog.IsAdminRole(role.RoleKey),
		})
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/orgs/:orgID/permissions/effective
func (h *PermissionHandler) Effective(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	keys, err := h.resolver.EffectiveOrganizationPermissions(requestContext(c), userID, c.Param("orgID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"permissions": keys})
}

type checkRequest struct {
	PermissionKey string `json:"permission_key" validate:"required"`
	ResourceType  string `json:"resource_type" validate:"omitempty,max=64"`
	ResourceID    string `json:"resource_id" validate:"omitempty,max=64"`
}

// POST /api/orgs/:orgID/permissions/check
func (h *PermissionHandler) Check(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body checkRequest
	if !bindAndValidate(c, &body) {
		return
	}

	orgID := c.Param("orgID")
	key := strings.TrimSpace(body.PermissionKey)
	resource := permissions.ResourceRef{Type: body.ResourceType, ID: body.ResourceID}

	decision, err := h.resolver.HasOrganizationPermission(requestContext(c), userID, orgID, key, resource, middleware.EvaluationContext(c))
	if err != nil {
		if errors.Is(err, permissions.ErrUnknownPermission) {
			response.Error(c, apperrors.NewBadRequest("unknown permission key"))
			return
		}
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	result := models.UsageResultDenied
	if decision.Allowed {
		result = models.UsageResultGranted
	}
	metrics.PermissionChecks.WithLabelValues(key, result).Inc()
	h.logUsage(c, userID, key, result, body, decision.DenialReason)

	response.Success(c, http.StatusOK, gin.H{
		"allowed":       decision.Allowed,
		"source":        decision.Source,
		"denial_reason": decision.DenialReason,
	})
}

// logUsage records the check outcome best-effort; failures never surface to
// the caller.
func (h *PermissionHandler) logUsage(c *gin.Context, userID, key, result string, body checkRequest, denialReason string) {
	var perm models.Permission
	if err := h.db.WithContext(requestContext(c)).First(&perm, "key = ?", key).Error; err != nil {
		return
	}
	_ = h.usage.LogUsage(requestContext(c), services.LogUsageInput{
		UserID:       userID,
		PermissionID: perm.ID,
		Result:       result,
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		Action:       "check",
		DenialReason: denialReason,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
}
