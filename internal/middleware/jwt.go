package middleware

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// Claims is the token payload issued by the platform. The subject carries the
// user id; older tokens use a numeric user_id claim instead.
type Claims struct {
	jwt.RegisteredClaims
	UserID json.Number `json:"user_id,omitempty"`
	Role   string      `json:"role,omitempty"`
	Roles  []string    `json:"roles,omitempty"`
}

var errNoSubject = errors.New("token carries no user id")

// Identity resolves the caller described by the claims.
func (c Claims) Identity() (Identity, error) {
	raw := strings.TrimSpace(c.Subject)
	if raw == "" {
		raw = c.UserID.String()
	}
	if raw == "" {
		return Identity{}, errNoSubject
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return Identity{}, errNoSubject
	}

	role := normalizeRoleValue(c.Role)
	for _, candidate := range c.Roles {
		if role != "" {
			break
		}
		role = normalizeRoleValue(candidate)
	}
	return Identity{UserID: uint(id), Role: role}, nil
}

// JWTProtected validates HMAC signed bearer tokens and stores the caller's
// identity on the request.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithJSONNumber(),
	)
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		scheme, tokenString, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenString) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		var claims Claims
		token, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), &claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return utils.SendError(c, fiber.StatusUnauthorized, "token expired")
			}
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		identity, err := claims.Identity()
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}
		SetIdentity(c, identity)

		return c.Next()
	}
}
