package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oakhurst/backoffice/internal/handlers"
	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/permissions"
)

func registerAuditRoutes(api *gin.RouterGroup, db *gorm.DB, resolver *permissions.Resolver) error {
	auditHandler, err := handlers.NewAuditHandler(db)
	if err != nil {
		return err
	}

	requireAdmin := middleware.RequireAdmin(resolver)

	api.GET("/audit", requireAdmin, auditHandler.List)
	api.GET("/audit/export", requireAdmin, auditHandler.Export)

	return nil
}
