package api

import (
	"github.com/gin-gonic/gin"

	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/internal/notifications"
	"github.com/oakhurst/backoffice/pkg/errors"
	"github.com/oakhurst/backoffice/pkg/response"
)

func registerNotificationRoutes(api *gin.RouterGroup, hub *notifications.Hub) {
	if hub == nil {
		return
	}

	api.GET("/notifications/ws", func(c *gin.Context) {
		v, ok := c.Get(middleware.CtxUserIDKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			return
		}
		userID, _ := v.(string)
		hub.Serve(userID, c.Writer, c.Request)
	})
}
