package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/response"
)

// DelegationHandler serves time-boxed permission delegations.
type DelegationHandler struct {
	svc *services.DelegationService
}

func NewDelegationHandler(db *gorm.DB, resolver *permissions.Resolver) (*DelegationHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewDelegationService(db, resolver, audit)
	if err != nil {
		return nil, err
	}
	return &DelegationHandler{svc: svc}, nil
}

type delegateRequest struct {
	DelegateeID  string     `json:"delegatee_id" validate:"required"`
	PermissionID string     `json:"permission_id" validate:"required"`
	ResourceType *string    `json:"resource_type" validate:"omitempty,max=64"`
	ResourceID   *string    `json:"resource_id"`
	ValidFrom    *time.Time `json:"valid_from"`
	ValidUntil   time.Time  `json:"valid_until" validate:"required"`
	Reason       string     `json:"reason" validate:"omitempty,max=512"`
}

// POST /api/delegations
func (h *DelegationHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body delegateRequest
	if !bindAndValidate(c, &body) {
		return
	}

	delegation, err := h.svc.Delegate(requestContext(c), services.DelegateInput{
		DelegatorID:  userID,
		DelegateeID:  body.DelegateeID,
		PermissionID: body.PermissionID,
		ResourceType: body.ResourceType,
		ResourceID:   body.ResourceID,
		ValidFrom:    body.ValidFrom,
		ValidUntil:   body.ValidUntil,
		Reason:       strings.TrimSpace(body.Reason),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, delegation)
}

type revokeDelegationRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// POST /api/delegations/:id/revoke
func (h *DelegationHandler) Revoke(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body revokeDelegationRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &body) {
			return
		}
	}

	delegation, err := h.svc.Revoke(requestContext(c), c.Param("id"), userID, strings.TrimSpace(body.Reason))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, delegation)
}

// GET /api/delegations/:id
func (h *DelegationHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	delegation, err := h.svc.GetByID(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, delegation)
}

// GET /api/delegations?direction=given|received
func (h *DelegationHandler) ListMine(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	direction := c.DefaultQuery("direction", services.DelegationDirectionGiven)
	delegations, err := h.svc.ListForUser(requestContext(c), userID, direction)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, delegations)
}

// GET /api/delegations/active
func (h *DelegationHandler) Active(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	delegations, err := h.svc.ActiveForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, delegations)
}

// GET /api/delegations/stats
func (h *DelegationHandler) Stats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.svc.StatsForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/delegations/expiring?hours=24
func (h *DelegationHandler) Expiring(c *gin.Context) {
	hours := parseIntQuery(c, "hours", 24)
	delegations, err := h.svc.ExpiringSoon(requestContext(c), hours)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, delegations)
}

// POST /api/delegations/expire
//
// On-demand run of the expiry sweep the cleaner schedules; reads already
// filter by validity, so this only tidies storage.
func (h *DelegationHandler) ExpireOutdated(c *gin.Context) {
	count, err := h.svc.ExpireOutdated(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"expired": count})
}
