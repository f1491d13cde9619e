package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/oakhurst/backoffice/internal/middleware"
	"github.com/oakhurst/backoffice/pkg/errors"
	"github.com/oakhurst/backoffice/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID pulls the authenticated user from the request context. When
// missing, a 401 is written and ok is false.
func currentUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(middleware.CtxUserIDKey)
	if !exists {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	userID, _ := v.(string)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}
