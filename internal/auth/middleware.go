package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Account roles.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Require enforces bearer JWT tokens signed with HS256. When roles are
// given, the token's role claim must match one of them.
func Require(signingKey, issuer string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims set by Require.
func ClaimsFrom(c *gin.Context) Claims {
	v, _ := c.Get("claims")
	claims, _ := v.(Claims)
	return claims
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
