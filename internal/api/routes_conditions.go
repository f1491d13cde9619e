package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerConditionRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	conditionHandler, err := handlers.NewConditionHandler(db, resolver.Catalog())
	if err != nil {
		return err
	}

	requireAdmin := middleware.RequireAdmin(resolver)

	api.POST("/permissions/:permissionID/conditions", requireAdmin, conditionHandler.Add)
	api.GET("/permissions/:permissionID/conditions", requireAdmin, conditionHandler.List)
	api.POST("/permissions/:permissionID/conditions/evaluate", requireAdmin, conditionHandler.Evaluate)
	api.DELETE("/conditions/:id", requireAdmin, conditionHandler.Delete)

	return nil
}
