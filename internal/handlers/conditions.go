package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/response"
)

// ConditionHandler manages contextual conditions attached to permissions.
type ConditionHandler struct {
	svc *services.ConditionService
}

func NewConditionHandler(db *gorm.DB, catalog *permissions.Catalog) (*ConditionHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewConditionService(db, catalog, audit)
	if err != nil {
		return nil, err
	}
	return &ConditionHandler{svc: svc}, nil
}

type addConditionRequest struct {
	UserID        *string        `json:"user_id"`
	RoleKey       *string        `json:"role_key"`
	ConditionType string         `json:"condition_type" validate:"required"`
	Config        map[string]any `json:"config" validate:"required"`
}

// POST /api/permissions/:permissionID/conditions
func (h *ConditionHandler) Add(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body addConditionRequest
	if !bindAndValidate(c, &body) {
		return
	}

	condition, err := h.svc.Add(requestContext(c), services.AddConditionInput{
		PermissionID:  c.Param("permissionID"),
		UserID:        body.UserID,
		RoleKey:       body.RoleKey,
		ConditionType: body.ConditionType,
		Config:        body.Config,
		CreatedBy:     actorID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, condition)
}

// GET /api/permissions/:permissionID/conditions
func (h *ConditionHandler) List(c *gin.Context) {
	conditions, err := h.svc.List(requestContext(c), c.Param("permissionID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, conditions)
}

type evaluateConditionsRequest struct {
	UserID    string                   `json:"user_id" validate:"required"`
	RoleKeys  []string                 `json:"role_keys"`
	Timestamp *time.Time               `json:"timestamp"`
	IPAddress string                   `json:"ip_address"`
	Geo       *permissions.GeoLocation `json:"geo"`
	Device    *permissions.DeviceInfo  `json:"device"`
}

// POST /api/permissions/:permissionID/conditions/evaluate
//
// Dry-runs the conditions attached to a permission against a supplied
// context without touching the usage log.
func (h *ConditionHandler) Evaluate(c *gin.Context) {
	var body evaluateConditionsRequest
	if !bindAndValidate(c, &body) {
		return
	}

	evalCtx := permissions.Context{
		IPAddress: body.IPAddress,
		Geo:       body.Geo,
		Device:    body.Device,
	}
	if body.Timestamp != nil {
		evalCtx.Timestamp = *body.Timestamp
	} else {
		evalCtx.Timestamp = time.Now()
	}

	passed, err := h.svc.Evaluate(requestContext(c), c.Param("permissionID"), body.UserID, body.RoleKeys, evalCtx)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"passed": passed})
}

// DELETE /api/conditions/:id
func (h *ConditionHandler) Delete(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(requestContext(c), c.Param("id"), actorID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
