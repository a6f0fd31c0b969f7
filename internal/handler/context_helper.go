package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/EduOpsSolutions/EduOps-sub002/internal/middleware"
	"github.com/EduOpsSolutions/EduOps-sub002/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext resolves the audit-trail actor for the request. Falls back
// to the system actor for unauthenticated internal calls.
func actorFromContext(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.ActorSystem
	}
	return claims.UserID
}
