package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/errors"
	"github.com/oakhurst/backoffice/pkg/response"
)

// TemplateHandler serves reusable permission templates.
type TemplateHandler struct {
	svc *services.TemplateService
}

func NewTemplateHandler(db *gorm.DB) (*TemplateHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewTemplateService(db, audit)
	if err != nil {
		return nil, err
	}
	return &TemplateHandler{svc: svc}, nil
}

type templateMemberRequest struct {
	PermissionID  string         `json:"permission_id" validate:"required"`
	ResourceType  *string        `json:"resource_type" validate:"omitempty,max=64"`
	ScopeMetadata map[string]any `json:"scope_metadata"`
}

type createTemplateRequest struct {
	TemplateName   string                  `json:"template_name" validate:"required,min=3,max=128"`
	Description    string                  `json:"description" validate:"omitempty,max=512"`
	Category       string                  `json:"category" validate:"omitempty,max=64"`
	OrganizationID *string                 `json:"organization_id"`
	Members        []templateMemberRequest `json:"members" validate:"required,min=1"`
}

func toMemberInputs(c *gin.Context, members []templateMemberRequest) ([]services.TemplateMemberInput, bool) {
	inputs := make([]services.TemplateMemberInput, 0, len(members))
	for _, member := range members {
		input := services.TemplateMemberInput{
			PermissionID: member.PermissionID,
			ResourceType: member.ResourceType,
		}
		if member.ScopeMetadata != nil {
			raw, err := json.Marshal(member.ScopeMetadata)
			if err != nil {
				response.Error(c, errors.NewBadRequest("invalid scope metadata"))
				return nil, false
			}
			input.ScopeMetadata = datatypes.JSON(raw)
		}
		inputs = append(inputs, input)
	}
	return inputs, true
}

// POST /api/templates
func (h *TemplateHandler) Create(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body createTemplateRequest
	if !bindAndValidate(c, &body) {
		return
	}

	members, ok := toMemberInputs(c, body.Members)
	if !ok {
		return
	}

	template, err := h.svc.Create(requestContext(c), services.CreateTemplateInput{
		TemplateName:   strings.TrimSpace(body.TemplateName),
		Description:    strings.TrimSpace(body.Description),
		Category:       strings.TrimSpace(body.Category),
		OrganizationID: body.OrganizationID,
		CreatedBy:      actorID,
		Members:        members,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, template)
}

// GET /api/templates?organization_id=...
func (h *TemplateHandler) List(c *gin.Context) {
	var orgID *string
	if v := strings.TrimSpace(c.Query("organization_id")); v != "" {
		orgID = &v
	}

	templates, err := h.svc.List(requestContext(c), orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, templates)
}

// GET /api/templates/:id
func (h *TemplateHandler) Get(c *gin.Context) {
	template, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, template)
}

type updateTemplateMembersRequest struct {
	Members []templateMemberRequest `json:"members" validate:"required,min=1"`
}

// PUT /api/templates/:id/members
func (h *TemplateHandler) UpdateMembers(c *gin.Context) {
	var body updateTemplateMembersRequest
	if !bindAndValidate(c, &body) {
		return
	}

	members, ok := toMemberInputs(c, body.Members)
	if !ok {
		return
	}

	template, err := h.svc.UpdateMembers(requestContext(c), c.Param("id"), members)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, template)
}

// DELETE /api/templates/:id
func (h *TemplateHandler) Delete(c *gin.Context) {
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

type cloneTemplateRequest struct {
	Name           string  `json:"name" validate:"required,min=3,max=128"`
	OrganizationID *string `json:"organization_id"`
}

// POST /api/templates/:id/clone
func (h *TemplateHandler) Clone(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body cloneTemplateRequest
	if !bindAndValidate(c, &body) {
		return
	}

	clone, err := h.svc.Clone(requestContext(c), c.Param("id"), strings.TrimSpace(body.Name), body.OrganizationID, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, clone)
}

type applyTemplateRequest struct {
	UserID         string     `json:"user_id" validate:"required"`
	OrganizationID string     `json:"organization_id" validate:"required"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Reason         string     `json:"reason" validate:"omitempty,max=512"`
}

// POST /api/templates/:id/apply
func (h *TemplateHandler) Apply(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body applyTemplateRequest
	if !bindAndValidate(c, &body) {
		return
	}

	grants, err := h.svc.ApplyToUser(requestContext(c), c.Param("id"), body.UserID, services.ApplyInput{
		OrganizationID: body.OrganizationID,
		ExpiresAt:      body.ExpiresAt,
		Reason:         strings.TrimSpace(body.Reason),
		AppliedBy:      actorID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, grants)
}

type batchApplyTemplateRequest struct {
	UserIDs        []string   `json:"user_ids" validate:"required,min=1"`
	OrganizationID string     `json:"organization_id" validate:"required"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Reason         string     `json:"reason" validate:"omitempty,max=512"`
}

// POST /api/templates/:id/batch-apply
func (h *TemplateHandler) BatchApply(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body batchApplyTemplateRequest
	if !bindAndValidate(c, &body) {
		return
	}

	outcomes, err := h.svc.BatchApply(requestContext(c), c.Param("id"), body.UserIDs, services.ApplyInput{
		OrganizationID: body.OrganizationID,
		ExpiresAt:      body.ExpiresAt,
		Reason:         strings.TrimSpace(body.Reason),
		AppliedBy:      actorID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, outcomes)
}

// GET /api/templates/:id/stats?organization_id=...
func (h *TemplateHandler) Stats(c *gin.Context) {
	var orgID *string
	if v := strings.TrimSpace(c.Query("organization_id")); v != "" {
		orgID = &v
	}

	stats, err := h.svc.UsageStats(requestContext(c), c.Param("id"), orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
