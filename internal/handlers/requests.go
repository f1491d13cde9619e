package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/response"
)

// RequestHandler serves the permission request approval workflow.
type RequestHandler struct {
	svc      *services.RequestService
	resolver *permissions.Resolver
}

func NewRequestHandler(db *gorm.DB, resolver *permissions.Resolver) (*RequestHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewRequestService(db, audit)
	if err != nil {
		return nil, err
	}
	return &RequestHandler{svc: svc, resolver: resolver}, nil
}

type createRequestRequest struct {
	PermissionID  string         `json:"permission_id" validate:"required"`
	ResourceType  *string        `json:"resource_type" validate:"omitempty,max=64"`
	ResourceID    *string        `json:"resource_id"`
	Reason        string         `json:"reason" validate:"required,max=1024"`
	DurationHours *int           `json:"duration_hours" validate:"omitempty,min=1"`
	Metadata      map[string]any `json:"metadata"`
}

// POST /api/requests
func (h *RequestHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body createRequestRequest
	if !bindAndValidate(c, &body) {
		return
	}

	request, err := h.svc.Create(requestContext(c), services.CreateRequestInput{
		RequesterID:   userID,
		PermissionID:  body.PermissionID,
		ResourceType:  body.ResourceType,
		ResourceID:    body.ResourceID,
		Reason:        strings.TrimSpace(body.Reason),
		DurationHours: body.DurationHours,
		Metadata:      body.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, request)
}

type decisionRequest struct {
	Note string `json:"note" validate:"omitempty,max=1024"`
}

// POST /api/requests/:id/approve
func (h *RequestHandler) Approve(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body decisionRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &body) {
			return
		}
	}

	request, err := h.svc.Approve(requestContext(c), c.Param("id"), userID, strings.TrimSpace(body.Note))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, request)
}

type denyRequest struct {
	Reason string `json:"reason" validate:"required,max=1024"`
}

// POST /api/requests/:id/deny
func (h *RequestHandler) Deny(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body denyRequest
	if !bindAndValidate(c, &body) {
		return
	}

	request, err := h.svc.Deny(requestContext(c), c.Param("id"), userID, strings.TrimSpace(body.Reason))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, request)
}

// POST /api/requests/:id/cancel
func (h *RequestHandler) Cancel(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	request, err := h.svc.Cancel(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, request)
}

// GET /api/requests/:id
//
// A request is visible to its requester, the deciding approver, and
// administrators only.
func (h *RequestHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	request, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if userID != request.RequesterID && (request.ApproverID == nil || *request.ApproverID != userID) {
		isAdmin, err := h.resolver.IsAdmin(requestContext(c), userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !isAdmin {
			response.Error(c, services.ErrRequestAccessDenied)
			return
		}
	}
	response.Success(c, http.StatusOK, request)
}

// GET /api/requests/pending?limit=50
func (h *RequestHandler) Pending(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	requests, err := h.svc.PendingQueue(requestContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// GET /api/requests?status=pending
func (h *RequestHandler) Mine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	requests, err := h.svc.ListByRequester(requestContext(c), userID, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}

// GET /api/requests/stats
func (h *RequestHandler) Stats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/requests/stats/global
func (h *RequestHandler) GlobalStats(c *gin.Context) {
	stats, err := h.svc.Stats(requestContext(c), "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/requests/by-permission/:permissionID
func (h *RequestHandler) PendingByPermission(c *gin.Context) {
	requests, err := h.svc.PendingByPermission(requestContext(c), c.Param("permissionID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, requests)
}
