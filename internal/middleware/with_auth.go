package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// Guards accepted by WithAuth.
const (
	AuthRoleAny     = "any"
	AuthRoleManager = "manager"
	AuthRoleStudent = RoleStudent
)

// AuthOptions configures the WithAuth helper. Any role other than "any"
// implies RequireUser.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with a platform level guard. Workshop level checks
// stay in the services.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := normalizeRoleValue(opts.Role)
	if role == "" {
		role = AuthRoleAny
	}
	requireUser := opts.RequireUser || role != AuthRoleAny

	return func(c *fiber.Ctx) error {
		identity := CurrentIdentity(c)
		if requireUser && !identity.Authenticated() {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		allowed := true
		switch role {
		case AuthRoleAny:
		case AuthRoleManager:
			allowed = identity.Manager()
		default:
			allowed = identity.Role == role
		}
		if !allowed {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_role": role})
		}

		return handler(c)
	}
}
