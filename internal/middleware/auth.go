package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/homefinder/api/internal/auth"
)

// PrincipalKey is the gin context key holding the authenticated principal.
const PrincipalKey = "principal"

// Authenticate verifies an optional bearer token. Requests without an
// Authorization header pass through anonymously; a malformed or invalid
// token is rejected with 401.
func Authenticate(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization header format")
			return
		}

		principal, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			if log := GetLogger(c); log != nil {
				log.Warn("Rejected bearer token", map[string]interface{}{
					"path":  c.Request.URL.Path,
					"error": err.Error(),
				})
			}
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		c.Set(PrincipalKey, principal)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// RequireAuth rejects requests that Authenticate did not attach a principal to.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			abortWithError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to save favorites")
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated principal, if any.
func GetPrincipal(c *gin.Context) (auth.Principal, bool) {
	if v, exists := c.Get(PrincipalKey); exists {
		if p, ok := v.(auth.Principal); ok {
			return p, true
		}
	}
	return auth.Principal{}, false
}
