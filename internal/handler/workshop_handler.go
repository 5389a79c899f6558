package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/middleware"
	"github.com/noah-isme/gema-workshop-api/internal/service"
	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// WorkshopHandler exposes workshop settings, phases, forms and enrolment.
type WorkshopHandler struct {
	service service.WorkshopService
	logger  zerolog.Logger
}

// NewWorkshopHandler constructs the workshop handler.
func NewWorkshopHandler(service service.WorkshopService, logger zerolog.Logger) *WorkshopHandler {
	return &WorkshopHandler{
		service: service,
		logger:  logger.With().Str("component", "workshop_handler").Logger(),
	}
}

// Register binds the workshop routes.
func (h *WorkshopHandler) Register(router fiber.Router) {
	router.Post("", middleware.WithAuth(h.create, middleware.AuthOptions{Role: middleware.AuthRoleManager}))
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Post("/:id/phase", h.switchPhase)
	router.Put("/:id/form", h.saveForm)
	router.Put("/:id/participants", h.enrol)
	router.Post("/:id/aggregate", h.aggregate)
	router.Get("/:id/activity", h.activity)
}

func (h *WorkshopHandler) create(c *fiber.Ctx) error {
	var payload dto.WorkshopCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	workshop, err := h.service.Create(withRequestContext(c), payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "workshop created", workshop)
}

func (h *WorkshopHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	workshop, err := h.service.Get(withRequestContext(c), id, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "workshop retrieved", workshop)
}

func (h *WorkshopHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.WorkshopUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	workshop, err := h.service.Update(withRequestContext(c), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "workshop updated", workshop)
}

func (h *WorkshopHandler) switchPhase(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.PhaseSwitchRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	transition, err := h.service.SwitchPhase(withRequestContext(c), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "phase switched", transition)
}

func (h *WorkshopHandler) saveForm(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.FormRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.SaveForm(withRequestContext(c), id, payload, activityActorFromContext(c)); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assessment form saved", nil)
}

func (h *WorkshopHandler) enrol(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ParticipantsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.service.Enrol(withRequestContext(c), id, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "participants enrolled", fiber.Map{"enrolled": count})
}

func (h *WorkshopHandler) aggregate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.Aggregate(withRequestContext(c), id, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "grades aggregated", report)
}

func (h *WorkshopHandler) activity(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}
	actorID, err := parseQueryUint(c, "actor_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		since = &parsed
	}

	result, err := h.service.Activity(withRequestContext(c), dto.ActivityListRequest{
		WorkshopID: id,
		Page:       page,
		PageSize:   pageSize,
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		ActorID:    actorID,
		Since:      since,
	}, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, result.Items, "activity retrieved", result.Pagination)
}
