package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/guards"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

const (
	identityKey = "identity"
	tokenKey    = "access_token"
)

// TokenValidator turns a presented bearer token into an identity
type TokenValidator interface {
	Validate(ctx context.Context, signed string) (models.Identity, error)
}

// AuthMiddleware adapts session validation and the guards to gin
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth validates the bearer token and stores the identity on the context
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			utils.UnauthorizedResponse(c, "Authorization token required")
			c.Abort()
			return
		}

		id, err := am.validator.Validate(c.Request.Context(), tokenString)
		if err != nil {
			utils.RespondError(c, err)
			c.Abort()
			return
		}

		c.Set(identityKey, id)
		c.Set(tokenKey, tokenString)
		c.Next()
	}
}

// RequireRole passes callers holding any of roles
func (am *AuthMiddleware) RequireRole(roles ...models.Role) gin.HandlerFunc {
	return guard(func(c *gin.Context, id models.Identity) error {
		_, err := guards.RequireRole(id, roles...)
		return err
	})
}

// RequireTenantAccess requires the token scope to match the :org path parameter.
// Platform operators pass for every org.
func (am *AuthMiddleware) RequireTenantAccess() gin.HandlerFunc {
	return guard(func(c *gin.Context, id models.Identity) error {
		_, err := guards.RequireTenantScope(id, c.Param("org"))
		return err
	})
}

// RequireTenantAdmin requires an admin of the :org tenant, or a platform operator
func (am *AuthMiddleware) RequireTenantAdmin() gin.HandlerFunc {
	return guard(func(c *gin.Context, id models.Identity) error {
		_, err := guards.RequireAdmin(id, c.Param("org"))
		return err
	})
}

func guard(check func(*gin.Context, models.Identity) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFromContext(c)
		if !ok {
			utils.RespondError(c, apperrors.Authentication("no identity on request"))
			c.Abort()
			return
		}
		if err := check(c, id); err != nil {
			utils.RespondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(c *gin.Context) string {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return ""
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if found {
		return ""
	}
	return authHeader
}

// IdentityFromContext returns the identity stored by RequireAuth
func IdentityFromContext(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}

// TokenFromContext returns the raw bearer token accepted by RequireAuth
func TokenFromContext(c *gin.Context) string {
	return c.GetString(tokenKey)
}
