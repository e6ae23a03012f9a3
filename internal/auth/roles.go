package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicdesk/grievance-service/internal/domain"
	apperrors "github.com/civicdesk/grievance-service/pkg/util/errorutil"
)

// RequireRole ensures the caller holds one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireStaff ensures the caller is an Admin or SuperAdmin.
func RequireStaff() fiber.Handler {
	return RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin)
}
