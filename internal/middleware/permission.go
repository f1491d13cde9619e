package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oakhurst/backoffice/internal/permissions"
	"github.com/oakhurst/backoffice/pkg/errors"
	"github.com/oakhurst/backoffice/pkg/metrics"
	"github.com/oakhurst/backoffice/pkg/response"
)

// OrgIDParam names the route parameter carrying the organization scope.
const OrgIDParam = "orgID"

// RequireAdmin restricts a route to users holding an administrative role in
// at least one active organization membership.
func RequireAdmin(resolver *permissions.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxUserIDKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		userID, _ := v.(string)
		isAdmin, err := resolver.IsAdmin(c.Request.Context(), userID)
		if err != nil {
			metrics.PermissionChecks.WithLabelValues("admin", "error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": errors.ErrInternalServer.Code, "message": "permission check failed"}})
			return
		}
		if !isAdmin {
			metrics.PermissionChecks.WithLabelValues("admin", "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.PermissionChecks.WithLabelValues("admin", "allowed").Inc()
		c.Next()
	}
}

// RequireOrganizationPermission checks that the authenticated user holds the
// given permission within the organization named by the :orgID route param.
// Attached conditions are evaluated against the request's IP and device hints.
func RequireOrganizationPermission(resolver *permissions.Resolver, permissionKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxUserIDKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		userID, _ := v.(string)

		orgID := strings.TrimSpace(c.Param(OrgIDParam))
		if orgID == "" {
			response.Error(c, errors.NewBadRequest("organization id is required"))
			c.Abort()
			return
		}

		decision, err := resolver.HasOrganizationPermission(c.Request.Context(), userID, orgID, permissionKey, permissions.ResourceRef{}, EvaluationContext(c))
		if err != nil {
			metrics.PermissionChecks.WithLabelValues(permissionKey, "error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": errors.ErrInternalServer.Code, "message": "permission check failed"}})
			return
		}
		if !decision.Allowed {
			metrics.PermissionChecks.WithLabelValues(permissionKey, "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.PermissionChecks.WithLabelValues(permissionKey, "allowed").Inc()
		c.Next()
	}
}

// EvaluationContext builds a condition evaluation context from the request.
// Device hints ride on optional X-Device-* headers set by trusted clients.
func EvaluationContext(c *gin.Context) permissions.Context {
	evalCtx := permissions.Context{
		IPAddress: c.ClientIP(),
	}
	if deviceType := c.GetHeader("X-Device-Type"); deviceType != "" {
		evalCtx.Device = &permissions.DeviceInfo{
			DeviceType:  deviceType,
			OS:          c.GetHeader("X-Device-OS"),
			IsCorporate: strings.EqualFold(c.GetHeader("X-Device-Corporate"), "true"),
		}
	}
	return evalCtx
}
