package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/internal/services"
	"github.com/oakhurst/backoffice/pkg/errors"
	"github.com/oakhurst/backoffice/pkg/response"
)

// OrganizationHandler serves organizations, memberships, and org-scoped grants.
type OrganizationHandler struct {
	svc    *services.OrganizationService
	grants *services.OrgPermissionService
}

func NewOrganizationHandler(db *gorm.DB, resolver *permissions.Resolver) (*OrganizationHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewOrganizationService(db, resolver.Catalog(), audit)
	if err != nil {
		return nil, err
	}
	grants, err := services.NewOrgPermissionService(db, resolver, audit)
	if err != nil {
		return nil, err
	}
	return &OrganizationHandler{svc: svc, grants: grants}, nil
}

type createOrganizationRequest struct {
	Name        string `json:"name" validate:"required,min=3,max=128"`
	Description string `json:"description" validate:"omitempty,max=512"`
}

// POST /api/orgs
func (h *OrganizationHandler) Create(c *gin.Context) {
	var body createOrganizationRequest
	if !bindAndValidate(c, &body) {
		return
	}

	org, err := h.svc.Create(requestContext(c), strings.TrimSpace(body.Name), strings.TrimSpace(body.Description))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, org)
}

// GET /api/orgs
func (h *OrganizationHandler) List(c *gin.Context) {
	orgs, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, orgs)
}

// GET /api/orgs/:orgID
func (h *OrganizationHandler) Get(c *gin.Context) {
	org, err := h.svc.GetByID(requestContext(c), c.Param("orgID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, org)
}

// GET /api/orgs/:orgID/members
func (h *OrganizationHandler) Members(c *gin.Context) {
	members, err := h.svc.Members(requestContext(c), c.Param("orgID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

type addMemberRequest struct {
	UserID    string   `json:"user_id" validate:"required"`
	Roles     []string `json:"roles" validate:"required,min=1"`
	IsPrimary bool     `json:"is_primary"`
}

// POST /api/orgs/:orgID/members
func (h *OrganizationHandler) AddMember(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body addMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}

	membership, err := h.svc.AddMember(requestContext(c), services.AddMemberInput{
		OrganizationID: c.Param("orgID"),
		UserID:         body.UserID,
		Roles:          body.Roles,
		IsPrimary:      body.IsPrimary,
		InvitedBy:      &actorID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, membership)
}

type suspendMemberRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// POST /api/orgs/:orgID/members/:userID/suspend
func (h *OrganizationHandler) SuspendMember(c *gin.Context) {
	var body suspendMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}

	membership, err := h.svc.SuspendMember(requestContext(c), c.Param("orgID"), c.Param("userID"), strings.TrimSpace(body.Reason))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, membership)
}

// POST /api/orgs/:orgID/members/:userID/reactivate
func (h *OrganizationHandler) ReactivateMember(c *gin.Context) {
	membership, err := h.svc.ReactivateMember(requestContext(c), c.Param("orgID"), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, membership)
}

// POST /api/orgs/:orgID/members/:userID/primary
func (h *OrganizationHandler) SetPrimary(c *gin.Context) {
	membership, err := h.svc.SetPrimary(requestContext(c), c.Param("orgID"), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, membership)
}

// DELETE /api/orgs/:orgID/members/:userID
func (h *OrganizationHandler) RemoveMember(c *gin.Context) {
	if err := h.svc.RemoveMember(requestContext(c), c.Param("orgID"), c.Param("userID")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// GET /api/memberships
func (h *OrganizationHandler) MyMemberships(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	memberships, err := h.svc.MembershipsForUser(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, memberships)
}

type grantRequest struct {
	UserID        string         `json:"user_id" validate:"required"`
	PermissionID  string         `json:"permission_id" validate:"required"`
	ResourceType  *string        `json:"resource_type" validate:"omitempty,max=64"`
	ResourceID    *string        `json:"resource_id"`
	ScopeMetadata map[string]any `json:"scope_metadata"`
	ExpiresAt     *time.Time     `json:"expires_at"`
	Reason        string         `json:"reason" validate:"omitempty,max=512"`
}

// POST /api/orgs/:orgID/grants
func (h *OrganizationHandler) Grant(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body grantRequest
	if !bindAndValidate(c, &body) {
		return
	}

	grant, err := h.grants.Grant(requestContext(c), services.GrantInput{
		OrganizationID: c.Param("orgID"),
		UserID:         body.UserID,
		PermissionID:   body.PermissionID,
		ResourceType:   body.ResourceType,
		ResourceID:     body.ResourceID,
		ScopeMetadata:  body.ScopeMetadata,
		ExpiresAt:      body.ExpiresAt,
		GrantedBy:      actorID,
		Reason:         strings.TrimSpace(body.Reason),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, grant)
}

type revokeGrantRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// DELETE /api/orgs/:orgID/grants/:grantID
func (h *OrganizationHandler) RevokeGrant(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body revokeGrantRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &body) {
			return
		}
	}

	if err := h.grants.Revoke(requestContext(c), c.Param("grantID"), actorID, strings.TrimSpace(body.Reason)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/grants/cleanup
//
// On-demand run of the expired-grant sweep; reads already filter by
// expiry, so this only tidies storage.
func (h *OrganizationHandler) CleanupExpiredGrants(c *gin.Context) {
	count, err := h.grants.CleanupExpired(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": count})
}

// GET /api/orgs/:orgID/members/:userID/grants
func (h *OrganizationHandler) UserGrants(c *gin.Context) {
	grants, err := h.grants.ListForUser(requestContext(c), c.Param("orgID"), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// GET /api/orgs/:orgID/members/:userID/effective
func (h *OrganizationHandler) UserEffective(c *gin.Context) {
	keys, err := h.grants.EffectivePermissions(requestContext(c), c.Param("userID"), c.Param("orgID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	roles, err := h.grants.Roles(requestContext(c), c.Param("userID"), c.Param("orgID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"permissions": keys, "roles": roles})
}
