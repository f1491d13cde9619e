package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerTemplateRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	templateHandler, err := handlers.NewTemplateHandler(db)
	if err != nil {
		return err
	}

	requireAdmin := middleware.RequireAdmin(resolver)

	templates := api.Group("/templates")
	{
		templates.GET("", templateHandler.List)
		templates.POST("", requireAdmin, templateHandler.Create)
		templates.GET("/:id", templateHandler.Get)
		templates.PUT("/:id/members", requireAdmin, templateHandler.UpdateMembers)
		templates.DELETE("/:id", requireAdmin, templateHandler.Delete)
		templates.POST("/:id/clone", requireAdmin, templateHandler.Clone)
		templates.POST("/:id/apply", requireAdmin, templateHandler.Apply)
		templates.POST("/:id/batch-apply", requireAdmin, templateHandler.BatchApply)
		templates.GET("/:id/stats", requireAdmin, templateHandler.Stats)
	}

	return nil
}
