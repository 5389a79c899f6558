package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/middleware"
	"github.com/noah-isme/gema-workshop-api/internal/service"
	"github.com/noah-isme/gema-workshop-api/internal/utils"
)

// NotificationHandler lists and acknowledges the caller's notifications.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	authenticated := middleware.AuthOptions{RequireUser: true}
	router.Get("/", middleware.WithAuth(h.list, authenticated))
	router.Post("/read-all", middleware.WithAuth(h.markAllRead, authenticated))
	router.Patch("/:id/read", middleware.WithAuth(h.markRead, authenticated))
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	req := dto.NotificationListRequest{
		UserID:     middleware.CurrentIdentity(c).UserID,
		UnreadOnly: c.QueryBool("unread", false),
	}

	var err error
	if req.Limit, err = parseQueryInt(c, "limit"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	if req.Offset, err = parseQueryInt(c, "offset"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}
	if req.WorkshopID, err = workshopFilter(c); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	inbox, err := h.service.List(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications", inbox)
}

func (h *NotificationHandler) markAllRead(c *fiber.Ctx) error {
	workshopID, err := workshopFilter(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.MarkAllRead(withRequestContext(c), middleware.CurrentIdentity(c).UserID, workshopID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notifications updated", result)
}

func workshopFilter(c *fiber.Ctx) (*uint, error) {
	id, err := parseQueryUint(c, "workshop_id")
	if err != nil || id == 0 {
		return nil, err
	}
	return &id, nil
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid notification id")
	}

	notification, err := h.service.MarkRead(withRequestContext(c), id, middleware.CurrentIdentity(c).UserID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "notification updated", notification)
}
