package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-workshop-api/internal/middleware"
)

func guardedApp(identity middleware.Identity, opts middleware.AuthOptions) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetIdentity(c, identity)
		return c.Next()
	})
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}, opts))
	return app
}

func TestWithAuthGuards(t *testing.T) {
	cases := []struct {
		name     string
		identity middleware.Identity
		opts     middleware.AuthOptions
		status   int
	}{
		{"student route accepts mixed case role", middleware.Identity{UserID: 10, Role: "Student"}, middleware.AuthOptions{Role: middleware.AuthRoleStudent}, fiber.StatusNoContent},
		{"student route rejects guest", middleware.Identity{UserID: 10, Role: "guest"}, middleware.AuthOptions{Role: middleware.AuthRoleStudent}, fiber.StatusForbidden},
		{"manager route accepts teacher", middleware.Identity{UserID: 1, Role: "teacher"}, middleware.AuthOptions{Role: middleware.AuthRoleManager}, fiber.StatusNoContent},
		{"manager route accepts admin", middleware.Identity{UserID: 1, Role: "admin"}, middleware.AuthOptions{Role: middleware.AuthRoleManager}, fiber.StatusNoContent},
		{"manager route rejects student", middleware.Identity{UserID: 3, Role: "student"}, middleware.AuthOptions{Role: middleware.AuthRoleManager}, fiber.StatusForbidden},
		{"role guard requires a user", middleware.Identity{Role: "teacher"}, middleware.AuthOptions{Role: middleware.AuthRoleManager}, fiber.StatusUnauthorized},
		{"any with RequireUser rejects anonymous", middleware.Identity{}, middleware.AuthOptions{RequireUser: true}, fiber.StatusUnauthorized},
		{"any allows anonymous", middleware.Identity{}, middleware.AuthOptions{Role: middleware.AuthRoleAny}, fiber.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := guardedApp(tc.identity, tc.opts)
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
