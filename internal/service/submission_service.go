package service

import (
	"context"
	"errors"
	"mime/multipart"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates the submission does not exist in the workshop.
	ErrSubmissionNotFound = allocation.ErrSubmissionNotFound
	// ErrSubmissionsClosed indicates the workshop does not accept submissions now.
	ErrSubmissionsClosed = errors.New("workshop is not accepting submissions")
	// ErrExamplesDisabled indicates example submissions are not enabled.
	ErrExamplesDisabled = errors.New("example submissions are not enabled for this workshop")
	// ErrGradeExceedsMax indicates an override above the workshop maximum.
	ErrGradeExceedsMax = errors.New("grade exceeds workshop maximum")
)

// SubmissionService handles author submissions and teacher grade overrides.
type SubmissionService interface {
	Submit(ctx context.Context, workshopID uint, payload dto.SubmissionCreateRequest, file *multipart.FileHeader, actor ActivityActor) (dto.SubmissionResponse, error)
	OverrideGrade(ctx context.Context, workshopID, submissionID uint, payload dto.GradeOverrideRequest, actor ActivityActor) (dto.SubmissionResponse, error)
	Delete(ctx context.Context, workshopID, submissionID uint, actor ActivityActor) error
}

type submissionService struct {
	store     repository.Store
	caps      Capabilities
	uploader  AttachmentUploader
	evaluator GradeEvaluator
	sink      events.Sink
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSubmissionService constructs the submission service.
func NewSubmissionService(store repository.Store, caps Capabilities, uploader AttachmentUploader, evaluator GradeEvaluator, sink events.Sink, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	if sink == nil {
		sink = events.Nop{}
	}
	return &submissionService{
		store:     store,
		caps:      caps,
		uploader:  uploader,
		evaluator: evaluator,
		sink:      sink,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "submission_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/service/submission"),
		now:       time.Now,
	}
}

// Submit creates the author's submission or updates the one already handed
// in. Teachers may add example submissions when the workshop uses them.
func (s *submissionService) Submit(ctx context.Context, workshopID uint, payload dto.SubmissionCreateRequest, file *multipart.FileHeader, actor ActivityActor) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.submit", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int64("submission.author_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	now := s.now()
	if payload.Example {
		if !workshop.UseExamples {
			return dto.SubmissionResponse{}, ErrExamplesDisabled
		}
		if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
			return dto.SubmissionResponse{}, err
		}
	} else {
		participant, err := s.caps.IsParticipant(ctx, workshopID, actor)
		if err != nil {
			return dto.SubmissionResponse{}, err
		}
		if !participant {
			return dto.SubmissionResponse{}, ErrForbidden
		}
		if !workshop.AcceptsSubmissions(now) {
			span.SetStatus(codes.Error, "submissions_closed")
			return dto.SubmissionResponse{}, ErrSubmissionsClosed
		}
	}

	title := strings.TrimSpace(s.sanitizer.Sanitize(payload.Title))
	if title == "" {
		return dto.SubmissionResponse{}, errors.New("submission title empty after sanitization")
	}
	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))

	var attachmentURL string
	if file != nil {
		if s.uploader == nil {
			return dto.SubmissionResponse{}, ErrAttachmentStorageUnavailable
		}
		attachment, err := s.uploader.Upload(ctx, file)
		if err != nil {
			span.RecordError(err)
			return dto.SubmissionResponse{}, err
		}
		attachmentURL = attachment.URL
	}

	submission := models.Submission{
		WorkshopID: workshopID,
		AuthorID:   actor.ID,
		Example:    payload.Example,
	}
	created := true
	if !payload.Example {
		authorID := actor.ID
		example := false
		existing, err := s.store.Submissions().List(ctx, repository.SubmissionFilter{
			WorkshopID: workshopID,
			AuthorID:   &authorID,
			Example:    &example,
		})
		if err != nil {
			return dto.SubmissionResponse{}, err
		}
		if len(existing) > 0 {
			submission = existing[0]
			created = false
		}
	}

	submission.Title = title
	submission.Content = content
	if attachmentURL != "" {
		submission.AttachmentURL = attachmentURL
	}
	submission.Late = !payload.Example && workshop.SubmissionDeadlinePassed(now)

	if created {
		err = s.store.Submissions().Create(ctx, &submission)
	} else {
		err = s.store.Submissions().Update(ctx, &submission)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist_failed")
		return dto.SubmissionResponse{}, err
	}

	if created {
		s.emit(ctx, events.Event{
			Name:       events.SubmissionCreated,
			WorkshopID: workshopID,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			EntityType: events.EntitySubmission,
			EntityID:   submission.ID,
			Data: map[string]interface{}{
				"example": submission.Example,
				"late":    submission.Late,
			},
		})
	}

	return dto.NewSubmissionResponse(submission), nil
}

// OverrideGrade sets or clears the teacher's grade for a submission. Once the
// workshop is being evaluated, the grading grades of that submission's
// reviewers are recomputed against the new reference.
func (s *submissionService) OverrideGrade(ctx context.Context, workshopID, submissionID uint, payload dto.GradeOverrideRequest, actor ActivityActor) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.override_grade", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return dto.SubmissionResponse{}, err
	}

	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if payload.Grade != nil && *payload.Grade > workshop.Grade+1e-9 {
		return dto.SubmissionResponse{}, ErrGradeExceedsMax
	}

	submission, err := s.store.Submissions().GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	if submission.WorkshopID != workshopID {
		return dto.SubmissionResponse{}, ErrSubmissionNotFound
	}

	previous := submission.GradeOver
	submission.GradeOver = payload.Grade
	submission.GradeOverBy = nil
	if payload.Grade != nil {
		by := actor.ID
		submission.GradeOverBy = &by
	}
	if err := s.store.Submissions().Update(ctx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	reevaluated := 0
	if workshop.Phase >= models.PhaseEvaluation && s.evaluator != nil {
		assessments, err := s.store.Assessments().List(ctx, repository.AssessmentFilter{
			WorkshopID:    workshopID,
			SubmissionIDs: []uint{submissionID},
		})
		if err != nil {
			return dto.SubmissionResponse{}, err
		}
		reviewers := make([]uint, 0, len(assessments))
		for _, assessment := range assessments {
			reviewers = append(reviewers, assessment.ReviewerID)
		}
		if len(reviewers) > 0 {
			report, err := s.evaluator.Run(ctx, workshopID, reviewers)
			if err != nil {
				span.RecordError(err)
				return dto.SubmissionResponse{}, err
			}
			reevaluated = report.Evaluated + report.Reevaluated
		}
	}

	s.emit(ctx, events.Event{
		Name:       events.SubmissionGradeOverridden,
		WorkshopID: workshopID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		EntityType: events.EntitySubmission,
		EntityID:   submissionID,
		Data: map[string]interface{}{
			"previous":    floatValue(previous),
			"grade_over":  floatValue(payload.Grade),
			"reevaluated": reevaluated,
		},
	})

	refreshed, err := s.store.Submissions().GetByID(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(refreshed), nil
}

// Delete removes a submission with its assessments and their dimension
// grades. Former reviewers are re-evaluated once grading has started.
func (s *submissionService) Delete(ctx context.Context, workshopID, submissionID uint, actor ActivityActor) error {
	ctx, span := s.tracer.Start(ctx, "submission.delete", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return err
	}
	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		return err
	}
	submission, err := s.store.Submissions().GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}
	if submission.WorkshopID != workshopID {
		return ErrSubmissionNotFound
	}

	assessments, err := s.store.Assessments().List(ctx, repository.AssessmentFilter{
		WorkshopID:      workshopID,
		SubmissionIDs:   []uint{submissionID},
		IncludeExamples: true,
	})
	if err != nil {
		return err
	}
	reviewers := make([]uint, 0, len(assessments))
	for _, assessment := range assessments {
		reviewers = append(reviewers, assessment.ReviewerID)
	}

	if err := s.store.Submissions().Delete(ctx, submissionID); err != nil {
		span.RecordError(err)
		return err
	}

	if workshop.Phase >= models.PhaseEvaluation && s.evaluator != nil && len(reviewers) > 0 && !submission.Example {
		if _, err := s.evaluator.Run(ctx, workshopID, reviewers); err != nil {
			span.RecordError(err)
			return err
		}
	}

	s.emit(ctx, events.Event{
		Name:       events.SubmissionDeleted,
		WorkshopID: workshopID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		EntityType: events.EntitySubmission,
		EntityID:   submissionID,
		Data: map[string]interface{}{
			"author_id":           submission.AuthorID,
			"example":             submission.Example,
			"assessments_removed": len(assessments),
		},
	})
	return nil
}

func (s *submissionService) emit(ctx context.Context, event events.Event) {
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Name).Uint("workshop_id", event.WorkshopID).Msg("event delivery failed")
	}
}

func floatValue(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
