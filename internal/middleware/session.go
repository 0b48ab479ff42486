package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/portal-backend/internal/response"
	"github.com/cognidex/portal-backend/internal/service"
)

// ContextKeyUpstreamToken is the Gin context key for the resolved
// evaluation-service credential.
const ContextKeyUpstreamToken = "upstream_token"

// ResolveUpstreamCredential fetches the evaluation-service token bound to
// the portal session and stores it in the request context. A JWT whose
// credential registry entry is gone is treated as an expired session even
// if the JWT itself has not expired yet.
func ResolveUpstreamCredential(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		token, err := authService.UpstreamToken(c.Request.Context(), claims)
		if err != nil {
			if errors.Is(err, service.ErrSessionExpired) {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionExpired)
			} else {
				response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			}
			return
		}

		c.Set(ContextKeyUpstreamToken, token)
		c.Next()
	}
}

// GetUpstreamToken retrieves the resolved credential from the Gin context.
func GetUpstreamToken(c *gin.Context) string {
	val, exists := c.Get(ContextKeyUpstreamToken)
	if !exists {
		return ""
	}
	token, _ := val.(string)
	return token
}
