package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerDelegationRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	delegationHandler, err := handlers.NewDelegationHandler(db, resolver)
	if err != nil {
		return err
	}

	delegations := api.Group("/delegations")
	{
		delegations.POST("", delegationHandler.Create)
		delegations.GET("", delegationHandler.ListMine)
		delegations.GET("/active", delegationHandler.Active)
		delegations.GET("/stats", delegationHandler.Stats)
		delegations.GET("/expiring", middleware.RequireAdmin(resolver), delegationHandler.Expiring)
		delegations.POST("/expire", middleware.RequireAdmin(resolver), delegationHandler.ExpireOutdated)
		delegations.GET("/:id", delegationHandler.Get)
		delegations.POST("/:id/revoke", delegationHandler.Revoke)
	}

	return nil
}
