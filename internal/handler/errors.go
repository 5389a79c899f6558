package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/evaluation"
	"github.com/noah-isme/gema-workshop-api/internal/grading"
	"github.com/noah-isme/gema-workshop-api/internal/phase"
	"github.com/noah-isme/gema-workshop-api/internal/service"
	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// sendServiceError maps workshop domain errors onto HTTP responses.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(validationErrors))
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrWorkshopNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrAssessmentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, notFoundMessage(err))
	case errors.Is(err, phase.ErrInvalidPhase),
		errors.Is(err, service.ErrGradeExceedsMax):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, phase.ErrPhaseConflict),
		errors.Is(err, service.ErrSubmissionsClosed),
		errors.Is(err, service.ErrAssessmentClosed),
		errors.Is(err, service.ErrExamplesDisabled),
		errors.Is(err, allocation.ErrAllocationExists),
		errors.Is(err, allocation.ErrAssessmentGraded):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case allocation.IsConfigurationError(err),
		errors.Is(err, allocation.ErrReviewerNotParticipant),
		errors.Is(err, evaluation.ErrInvalidSettings),
		errors.Is(err, grading.ErrUnknownStrategy),
		errors.Is(err, grading.ErrInvalidForm),
		errors.Is(err, grading.ErrMissingAnswer),
		errors.Is(err, grading.ErrAnswerOutOfRange),
		errors.Is(err, service.ErrUploadScanFailed):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUploadTypeNotAllowed):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrAttachmentStorageUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return "submission not found"
	case errors.Is(err, service.ErrAssessmentNotFound):
		return "assessment not found"
	default:
		return "workshop not found"
	}
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Namespace()] = fieldErr.Tag()
	}
	return details
}
