// Package guards holds the role and scope predicates every handler applies
// before touching tenant data. They never perform I/O.
package guards

import (
	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

// RequireRole passes when the identity holds one of roles
func RequireRole(id models.Identity, roles ...models.Role) (models.Identity, error) {
	for _, role := range roles {
		if id.Role == role {
			return id, nil
		}
	}
	return id, apperrors.Authorization("role " + string(id.Role) + " not permitted")
}

// RequireTenantScope passes for platform operators, otherwise the token's
// scope must equal the normalized target org.
func RequireTenantScope(id models.Identity, targetOrg string) (models.Identity, error) {
	if id.IsPlatformOperator() {
		return id, nil
	}
	org := models.NormalizeOrg(targetOrg)
	if org == "" || id.TenantScope != org {
		return id, apperrors.Authorization("tenant scope mismatch")
	}
	return id, nil
}

// RequireAdmin requires the admin flag and, for non-operators, a scope match
func RequireAdmin(id models.Identity, targetOrg string) (models.Identity, error) {
	if !id.IsAdmin {
		return id, apperrors.Authorization("admin required")
	}
	return RequireTenantScope(id, targetOrg)
}

// RequireSelfOrAdmin lets a principal read its own record; admins read any
func RequireSelfOrAdmin(id models.Identity, principalID uint) (models.Identity, error) {
	if id.IsAdmin || id.PrincipalID == principalID {
		return id, nil
	}
	return id, apperrors.Authorization("can only access own principal")
}
