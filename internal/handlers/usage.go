package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/response"
)

// UsageHandler serves usage analytics and security reports.
type UsageHandler struct {
	svc *services.UsageService
}

func NewUsageHandler(db *gorm.DB) (*UsageHandler, error) {
	svc, err := services.NewUsageService(db)
	if err != nil {
		return nil, err
	}
	return &UsageHandler{svc: svc}, nil
}

func parseDateRange(c *gin.Context) services.DateRange {
	var dateRange services.DateRange
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			dateRange.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			dateRange.To = t
		}
	}
	return dateRange
}

type logUsageRequest struct {
	UserID       string         `json:"user_id" validate:"required"`
	PermissionID string         `json:"permission_id" validate:"required"`
	Result       string         `json:"result" validate:"required,oneof=granted denied error"`
	ResourceType string         `json:"resource_type" validate:"omitempty,max=64"`
	ResourceID   string         `json:"resource_id"`
	Action       string         `json:"action" validate:"omitempty,max=64"`
	DenialReason string         `json:"denial_reason" validate:"omitempty,max=512"`
	Metadata     map[string]any `json:"metadata"`
}

// POST /api/usage
//
// Records a usage entry on behalf of a collaborating service, for denials and
// errors observed outside the check endpoint.
func (h *UsageHandler) Record(c *gin.Context) {
	var body logUsageRequest
	if !bindAndValidate(c, &body) {
		return
	}

	err := h.svc.LogUsage(requestContext(c), services.LogUsageInput{
		UserID:       body.UserID,
		PermissionID: body.PermissionID,
		Result:       body.Result,
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		Action:       body.Action,
		DenialReason: body.DenialReason,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Metadata:     body.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"recorded": true})
}

// GET /api/usage/permissions/:permissionID
func (h *UsageHandler) PermissionStats(c *gin.Context) {
	stats, err := h.svc.PermissionUsageStats(requestContext(c), c.Param("permissionID"), parseDateRange(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/usage/users/:userID
func (h *UsageHandler) UserStats(c *gin.Context) {
	stats, err := h.svc.UserStats(requestContext(c), c.Param("userID"), parseDateRange(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/usage/unused?days=90
func (h *UsageHandler) Unused(c *gin.Context) {
	days := parseIntQuery(c, "days", 90)
	unused, err := h.svc.UnusedPermissions(requestContext(c), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, unused)
}

// GET /api/usage/alerts?min_severity=medium
func (h *UsageHandler) Alerts(c *gin.Context) {
	alerts, err := h.svc.SecurityAlerts(requestContext(c), c.DefaultQuery("min_severity", "medium"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, alerts)
}

// GET /api/usage/compliance
func (h *UsageHandler) Compliance(c *gin.Context) {
	report, err := h.svc.Compliance(requestContext(c), parseDateRange(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// GET /api/usage/activity?limit=50
func (h *UsageHandler) RecentActivity(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	entries, err := h.svc.RecentActivity(requestContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

// GET /api/usage/resources/:resourceType/:resourceID?limit=50
func (h *UsageHandler) ResourceActivity(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	entries, err := h.svc.ResourceActivity(requestContext(c), c.Param("resourceType"), c.Param("resourceID"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}
