package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/service"
	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// AllocationHandler exposes reviewer allocation endpoints.
type AllocationHandler struct {
	service service.AllocationService
	logger  zerolog.Logger
}

// NewAllocationHandler constructs the allocation handler.
func NewAllocationHandler(service service.AllocationService, logger zerolog.Logger) *AllocationHandler {
	return &AllocationHandler{
		service: service,
		logger:  logger.With().Str("component", "allocation_handler").Logger(),
	}
}

// Register binds the allocation routes under /workshops.
func (h *AllocationHandler) Register(router fiber.Router) {
	router.Post("/:id/allocations/random", h.random)
	router.Put("/:id/allocations/scheduled", h.scheduled)
	router.Post("/:id/allocations", h.add)
	router.Delete("/:id/allocations/:assessmentId", h.remove)
}

func (h *AllocationHandler) random(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RandomAllocationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Random(withRequestContext(c), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, result.Summary(), result)
}

func (h *AllocationHandler) scheduled(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ScheduledAllocationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	record, err := h.service.ConfigureScheduled(withRequestContext(c), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "scheduled allocation saved", record)
}

func (h *AllocationHandler) add(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ManualAllocationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assessment, err := h.service.Add(withRequestContext(c), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "reviewer allocated", assessment)
}

func (h *AllocationHandler) remove(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	assessmentID, err := parseUintParam(c, "assessmentId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	force := c.QueryBool("force", false)

	if err := h.service.Remove(withRequestContext(c), id, assessmentID, force, activityActorFromContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "allocation removed", nil)
}
