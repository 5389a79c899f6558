package utils_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

type envelope struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Meta      map[string]interface{} `json:"meta"`
	Details   map[string]interface{} `json:"details"`
	RequestID string                 `json:"request_id"`
}

func call(t *testing.T, handler fiber.Handler) (int, envelope) {
	t.Helper()
	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestEnvelopes(t *testing.T) {
	tests := []struct {
		name        string
		handler     fiber.Handler
		wantStatus  int
		wantSuccess bool
		wantMessage string
		check       func(t *testing.T, body envelope)
	}{
		{
			name: "list with pagination",
			handler: func(c *fiber.Ctx) error {
				return utils.OK(c, fiber.Map{"workshop_id": 4}, "", fiber.Map{"page": 2})
			},
			wantStatus:  fiber.StatusOK,
			wantSuccess: true,
			wantMessage: "success",
			check: func(t *testing.T, body envelope) {
				assert.Equal(t, float64(4), body.Data["workshop_id"])
				assert.Equal(t, float64(2), body.Meta["page"])
			},
		},
		{
			name: "created",
			handler: func(c *fiber.Ctx) error {
				return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assessment saved", fiber.Map{"grade": 80.5})
			},
			wantStatus:  fiber.StatusCreated,
			wantSuccess: true,
			wantMessage: "assessment saved",
			check: func(t *testing.T, body envelope) {
				assert.Equal(t, 80.5, body.Data["grade"])
			},
		},
		{
			name: "failure with details",
			handler: func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusUnprocessableEntity, "allocation rejected", fiber.Map{"field": "num_of_reviews"})
			},
			wantStatus:  fiber.StatusUnprocessableEntity,
			wantMessage: "allocation rejected",
			check: func(t *testing.T, body envelope) {
				assert.Equal(t, "num_of_reviews", body.Details["field"])
				assert.Nil(t, body.Data)
			},
		},
		{
			name: "blank error message",
			handler: func(c *fiber.Ctx) error {
				return utils.SendError(c, fiber.StatusNotFound, "")
			},
			wantStatus:  fiber.StatusNotFound,
			wantMessage: "error",
		},
		{
			name: "unavailable keeps data",
			handler: func(c *fiber.Ctx) error {
				return utils.Unavailable(c, "service degraded", fiber.Map{"status": "degraded"})
			},
			wantStatus:  fiber.StatusServiceUnavailable,
			wantMessage: "service degraded",
			check: func(t *testing.T, body envelope) {
				assert.Equal(t, "degraded", body.Data["status"])
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := call(t, tc.handler)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantSuccess, body.Success)
			assert.Equal(t, tc.wantMessage, body.Message)
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestEnvelopeCarriesCorrelationID(t *testing.T) {
	_, body := call(t, func(c *fiber.Ctx) error {
		c.Set("X-Correlation-ID", "req-42")
		return utils.SendSuccess(c, "", nil)
	})
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, "success", body.Message)
}
