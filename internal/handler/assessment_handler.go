package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/service"
	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// AssessmentHandler manages reviewer assessments and grading grade overrides.
type AssessmentHandler struct {
	service service.AssessmentService
	logger  zerolog.Logger
}

// NewAssessmentHandler builds an assessment handler instance.
func NewAssessmentHandler(service service.AssessmentService, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assessment_handler").Logger(),
	}
}

// Register attaches the routes under /workshops.
func (h *AssessmentHandler) Register(router fiber.Router) {
	router.Post("/:id/assessments/:assessmentId", h.submit)
	router.Patch("/:id/assessments/:assessmentId/override", h.override)
	router.Patch("/:id/assessments/:assessmentId/weight", h.weight)
}

func (h *AssessmentHandler) submit(c *fiber.Ctx) error {
	id, assessmentID, err := h.ids(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AssessmentSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assessment, err := h.service.Submit(withRequestContext(c), id, assessmentID, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assessment saved", assessment)
}

func (h *AssessmentHandler) override(c *fiber.Ctx) error {
	id, assessmentID, err := h.ids(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeOverrideRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assessment, err := h.service.OverrideGradingGrade(withRequestContext(c), id, assessmentID, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "grading grade updated", assessment)
}

func (h *AssessmentHandler) weight(c *fiber.Ctx) error {
	id, assessmentID, err := h.ids(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AssessmentWeightRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assessment, err := h.service.SetWeight(withRequestContext(c), id, assessmentID, payload, activityActorFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assessment weight updated", assessment)
}

func (h *AssessmentHandler) ids(c *fiber.Ctx) (uint, uint, error) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return 0, 0, err
	}
	assessmentID, err := parseUintParam(c, "assessmentId")
	if err != nil {
		return 0, 0, err
	}
	return id, assessmentID, nil
}
