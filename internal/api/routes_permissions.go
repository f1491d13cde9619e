package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerPermissionRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	permHandler, err := handlers.NewPermissionHandler(db, resolver)
	if err != nil {
		return err
	}

	perms := api.Group("/permissions")
	{
		perms.GET("/registry", permHandler.Registry)
		perms.GET("/roles", permHandler.Roles)
	}

	api.GET("/orgs/:orgID/permissions/effective", permHandler.Effective)
	api.POST("/orgs/:orgID/permissions/check", permHandler.Check)

	return nil
}
