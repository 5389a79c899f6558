package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Locals keys written by the authentication middleware.
const (
	LocalUserID   = "user_id"
	LocalUserRole = "user_role"
)

// Platform roles carried in the token. Workshop level rights come from
// enrolment, not from these.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID uint
	Role   string
}

// Authenticated reports whether a user id was established.
func (i Identity) Authenticated() bool { return i.UserID != 0 }

// Manager reports whether the platform role may create and run workshops.
func (i Identity) Manager() bool { return i.Role == RoleAdmin || i.Role == RoleTeacher }

// SetIdentity stores the caller on the request.
func SetIdentity(c *fiber.Ctx, identity Identity) {
	if identity.UserID != 0 {
		c.Locals(LocalUserID, identity.UserID)
	}
	if role := normalizeRoleValue(identity.Role); role != "" {
		c.Locals(LocalUserRole, role)
	}
}

// CurrentIdentity reads the caller from the request locals.
func CurrentIdentity(c *fiber.Ctx) Identity {
	identity := Identity{Role: normalizeRoleValue(c.Locals(LocalUserRole))}
	switch v := c.Locals(LocalUserID).(type) {
	case uint:
		identity.UserID = v
	case int:
		if v > 0 {
			identity.UserID = uint(v)
		}
	case uint64:
		identity.UserID = uint(v)
	}
	return identity
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if role := normalizeRoleValue(item); role != "" {
				return role
			}
		}
		return ""
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
