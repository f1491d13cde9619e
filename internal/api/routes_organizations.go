package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerOrganizationRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	orgHandler, err := handlers.NewOrganizationHandler(db, resolver)
	if err != nil {
		return err
	}

	requireAdmin := middleware.RequireAdmin(resolver)

	orgs := api.Group("/orgs")
	{
		orgs.GET("", orgHandler.List)
		orgs.POST("", requireAdmin, orgHandler.Create)
		orgs.GET("/:orgID", orgHandler.Get)

		orgs.GET("/:orgID/members", orgHandler.Members)
		orgs.POST("/:orgID/members", requireAdmin, orgHandler.AddMember)
		orgs.POST("/:orgID/members/:userID/suspend", requireAdmin, orgHandler.SuspendMember)
		orgs.POST("/:orgID/members/:userID/reactivate", requireAdmin, orgHandler.ReactivateMember)
		orgs.POST("/:orgID/members/:userID/primary", requireAdmin, orgHandler.SetPrimary)
		orgs.DELETE("/:orgID/members/:userID", requireAdmin, orgHandler.RemoveMember)

		orgs.POST("/:orgID/grants", requireAdmin, orgHandler.Grant)
		orgs.DELETE("/:orgID/grants/:grantID", requireAdmin, orgHandler.RevokeGrant)
		orgs.GET("/:orgID/members/:userID/grants", requireAdmin, orgHandler.UserGrants)
		orgs.GET("/:orgID/members/:userID/effective", requireAdmin, orgHandler.UserEffective)
	}

	api.GET("/memberships", orgHandler.MyMemberships)
	api.POST("/grants/cleanup", requireAdmin, orgHandler.CleanupExpiredGrants)

	return nil
}
