package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerUsageRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	usageHandler, err := handlers.NewUsageHandler(db)
	if err != nil {
		return err
	}

	usage := api.Group("/usage")
	usage.Use(middleware.RequireAdmin(resolver))
	{
		usage.POST("", usageHandler.Record)
		usage.GET("/permissions/:permissionID", usageHandler.PermissionStats)
		usage.GET("/users/:userID", usageHandler.UserStats)
		usage.GET("/unused", usageHandler.Unused)
		usage.GET("/alerts", usageHandler.Alerts)
		usage.GET("/compliance", usageHandler.Compliance)
		usage.GET("/activity", usageHandler.RecentActivity)
		usage.GET("/resources/:resourceType/:resourceID", usageHandler.ResourceActivity)
	}

	return nil
}
