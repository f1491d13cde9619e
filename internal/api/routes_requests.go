package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerRequestRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	requestHandler, err := handlers.NewRequestHandler(db, resolver)
	if err != nil {
		return err
	}

	requireAdmin := middleware.RequireAdmin(resolver)

	requests := api.Group("/requests")
	{
		requests.POST("", requestHandler.Create)
		requests.GET("", requestHandler.Mine)
		requests.GET("/pending", requireAdmin, requestHandler.Pending)
		requests.GET("/by-permission/:permissionID", requireAdmin, requestHandler.PendingByPermission)
		requests.GET("/stats", requestHandler.Stats)
		requests.GET("/stats/global", requireAdmin, requestHandler.GlobalStats)
		requests.GET("/:id", requestHandler.Get)
		requests.POST("/:id/approve", requireAdmin, requestHandler.Approve)
		requests.POST("/:id/deny", requireAdmin, requestHandler.Deny)
		requests.POST("/:id/cancel", requestHandler.Cancel)
	}

	return nil
}
