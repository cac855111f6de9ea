package admission

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/watchsync/core/internal/v1/auth"
)

// TokenValidator authenticates the bearer token on the Admission Service's
// REST surface. Mirrors the Signaling Hub's own collaborator of the same
// shape, since both front the same Token Verifier.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// RequireAuth rejects requests without a valid bearer token and, on
// success, stashes the claims in the gin context under "claims" for
// downstream handlers and the rate limiter.
func RequireAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "AuthFailed"})
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "AuthFailed"})
			return
		}

		c.Set("claims", claims)
		c.Set("userId", claims.Subject)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	v, _ := c.Get("userId")
	id, _ := v.(string)
	return id
}
