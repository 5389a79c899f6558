package utils

import "github.com/gofiber/fiber/v2"

const correlationHeader = "X-Correlation-ID"

// APIResponse is the envelope every workshop endpoint answers with.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Meta      interface{} `json:"meta,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Respond writes body with status. The correlation id already set on the
// response is copied into the envelope.
func Respond(c *fiber.Ctx, status int, body APIResponse) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	if body.Message == "" {
		if body.Success {
			body.Message = "success"
		} else {
			body.Message = "error"
		}
	}
	if body.RequestID == "" {
		body.RequestID = c.GetRespHeader(correlationHeader)
	}
	return c.Status(status).JSON(body)
}

// SendSuccess answers 200 with data.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return Respond(c, fiber.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

// SendSuccessWithStatus answers a successful write, typically 201 or 202.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	return Respond(c, status, APIResponse{Success: true, Message: message, Data: data})
}

// OK answers 200 with list metadata such as pagination.
func OK(c *fiber.Ctx, data interface{}, message string, meta interface{}) error {
	return Respond(c, fiber.StatusOK, APIResponse{Success: true, Message: message, Data: data, Meta: meta})
}

func SendError(c *fiber.Ctx, status int, message string) error {
	return Fail(c, status, message, nil)
}

// Fail answers an error. details carries field errors or allocation issues.
func Fail(c *fiber.Ctx, status int, message string, details interface{}) error {
	return Respond(c, status, APIResponse{Message: message, Details: details})
}

// Unavailable answers 503 while still returning data, used when a
// dependency check fails.
func Unavailable(c *fiber.Ctx, message string, data interface{}) error {
	return Respond(c, fiber.StatusServiceUnavailable, APIResponse{Message: message, Data: data})
}
