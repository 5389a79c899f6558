package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

// NotificationTypeAllocationReport tags scheduled allocation reports.
const NotificationTypeAllocationReport = "allocation_report"

// NotificationService manages a user's inbox and turns scheduled
// allocation results into reports for the workshop's teachers.
type NotificationService interface {
	List(ctx context.Context, req dto.NotificationListRequest) (dto.NotificationList, error)
	MarkRead(ctx context.Context, id, userID uint) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID uint, workshopID *uint) (dto.MarkAllReadResponse, error)
	DeliverAllocationReport(ctx context.Context, event events.Event) error
}

type notificationService struct {
	repo         repository.NotificationRepository
	participants repository.ParticipantRepository
	logger       zerolog.Logger
	tracer       trace.Tracer
	sanitizer    *bluemonday.Policy
	now          func() time.Time
}

// NewNotificationService constructs a notification service.
func NewNotificationService(repo repository.NotificationRepository, participants repository.ParticipantRepository, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:         repo,
		participants: participants,
		logger:       logger.With().Str("component", "notification_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/service/notification"),
		sanitizer:    bluemonday.StrictPolicy(),
		now:          time.Now,
	}
}

var errNoRecipient = errors.New("user id is required")

func (s *notificationService) List(ctx context.Context, req dto.NotificationListRequest) (dto.NotificationList, error) {
	if req.UserID == 0 {
		return dto.NotificationList{}, errNoRecipient
	}

	items, err := s.repo.List(ctx, repository.NotificationQuery{
		UserID:     req.UserID,
		WorkshopID: req.WorkshopID,
		UnreadOnly: req.UnreadOnly,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return dto.NotificationList{}, err
	}
	unread, err := s.repo.CountUnread(ctx, req.UserID, req.WorkshopID)
	if err != nil {
		return dto.NotificationList{}, err
	}

	return dto.NotificationList{Items: dto.NewNotificationResponseSlice(items), Unread: unread}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID uint) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(attribute.Int64("notification.user_id", int64(userID))))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint, workshopID *uint) (dto.MarkAllReadResponse, error) {
	if userID == 0 {
		return dto.MarkAllReadResponse{}, errNoRecipient
	}
	updated, err := s.repo.MarkAllRead(ctx, userID, workshopID, s.now().UTC())
	if err != nil {
		return dto.MarkAllReadResponse{}, err
	}
	s.logger.Debug().Uint("user_id", userID).Int64("updated", updated).Msg("inbox marked read")
	return dto.MarkAllReadResponse{Updated: updated}, nil
}

// DeliverAllocationReport sends one notification per teacher of the workshop.
func (s *notificationService) DeliverAllocationReport(ctx context.Context, event events.Event) error {
	if event.Name != events.AllocationScheduledExecuted {
		return nil
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.allocation_report", trace.WithAttributes(attribute.Int64("workshop.id", int64(event.WorkshopID))))
	defer span.End()

	teachers, err := s.participants.List(spanCtx, event.WorkshopID, models.ParticipantRoleTeacher)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(teachers) == 0 {
		s.logger.Debug().Uint("workshop_id", event.WorkshopID).Msg("no teachers to receive allocation report")
		return nil
	}

	message := strings.TrimSpace(s.sanitizer.Sanitize(allocationReportMessage(event)))
	workshopID := event.WorkshopID
	notifications := make([]models.Notification, 0, len(teachers))
	for _, teacher := range teachers {
		notifications = append(notifications, models.Notification{
			UserID:     teacher.UserID,
			WorkshopID: &workshopID,
			Type:       NotificationTypeAllocationReport,
			Message:    message,
		})
	}

	if err := s.repo.CreateBatch(spanCtx, notifications); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("notification.recipients", len(notifications)))
	return nil
}

func allocationReportMessage(event events.Event) string {
	status, _ := event.Data["status"].(string)
	summary, _ := event.Data["summary"].(string)
	if status == "" {
		status = "unknown"
	}
	message := fmt.Sprintf("Scheduled allocation for workshop %d finished with status %s", event.WorkshopID, status)
	if summary != "" {
		message += ": " + summary
	}
	return message
}
