package service

import (
	"context"
	"errors"
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
	"github.com/noah-isme/gema-workshop-api/internal/grading"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

var (
	// ErrAssessmentNotFound indicates the assessment does not exist in the workshop.
	ErrAssessmentNotFound = allocation.ErrAllocationNotFound
	// ErrAssessmentClosed indicates the workshop phase does not allow assessing.
	ErrAssessmentClosed = errors.New("workshop is not accepting assessments")
)

// AssessmentService handles reviewers filling in the assessment form and
// teachers overriding grading grades.
type AssessmentService interface {
	Submit(ctx context.Context, workshopID, assessmentID uint, payload dto.AssessmentSubmitRequest, actor ActivityActor) (dto.AssessmentResponse, error)
	OverrideGradingGrade(ctx context.Context, workshopID, assessmentID uint, payload dto.GradeOverrideRequest, actor ActivityActor) (dto.AssessmentResponse, error)
	SetWeight(ctx context.Context, workshopID, assessmentID uint, payload dto.AssessmentWeightRequest, actor ActivityActor) (dto.AssessmentResponse, error)
}

type assessmentService struct {
	store     repository.Store
	caps      Capabilities
	evaluator GradeEvaluator
	sink      events.Sink
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAssessmentService constructs the assessment service.
func NewAssessmentService(store repository.Store, caps Capabilities, evaluator GradeEvaluator, sink events.Sink, validate *validator.Validate, logger zerolog.Logger) AssessmentService {
	if sink == nil {
		sink = events.Nop{}
	}
	return &assessmentService{
		store:     store,
		caps:      caps,
		evaluator: evaluator,
		sink:      sink,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "assessment_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/service/assessment"),
		now:       time.Now,
	}
}

func (s *assessmentService) Submit(ctx context.Context, workshopID, assessmentID uint, payload dto.AssessmentSubmitRequest, actor ActivityActor) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessment.submit", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int64("assessment.id", int64(assessmentID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssessmentResponse{}, err
	}

	workshop, assessment, submission, err := s.load(ctx, workshopID, assessmentID)
	if err != nil {
		span.RecordError(err)
		return dto.AssessmentResponse{}, err
	}
	if assessment.ReviewerID != actor.ID {
		return dto.AssessmentResponse{}, ErrForbidden
	}
	if !assessmentOpen(workshop, submission, s.now()) {
		span.SetStatus(codes.Error, "assessment_closed")
		return dto.AssessmentResponse{}, ErrAssessmentClosed
	}

	strategy, err := grading.ForStrategy(workshop.Strategy)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	dimensions, err := s.store.Forms().Dimensions(ctx, workshopID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	mappings, err := s.store.Forms().Mappings(ctx, workshopID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	form := grading.FormFromModels(dimensions, mappings)
	if err := strategy.Validate(form); err != nil {
		return dto.AssessmentResponse{}, err
	}

	answers := make([]grading.Answer, 0, len(payload.Answers))
	for _, answer := range payload.Answers {
		answers = append(answers, grading.Answer{
			DimensionID: answer.DimensionID,
			Grade:       answer.Grade,
			LevelID:     answer.LevelID,
			Comment:     strings.TrimSpace(s.sanitizer.Sanitize(answer.Comment)),
		})
	}

	result, err := strategy.Score(form, answers, workshop.Grade)
	if err != nil {
		span.RecordError(err)
		return dto.AssessmentResponse{}, err
	}

	grades := make([]models.AssessmentGrade, 0, len(result.Dimensions))
	for _, value := range result.Dimensions {
		grades = append(grades, models.AssessmentGrade{
			DimensionID: value.DimensionID,
			Grade:       value.Grade,
			PeerComment: value.Comment,
		})
	}

	grade := result.Grade
	assessment.Grade = &grade
	assessment.FeedbackAuthor = strings.TrimSpace(s.sanitizer.Sanitize(payload.FeedbackAuthor))
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Assessments().SaveGrades(ctx, assessment.ID, grades); err != nil {
			return err
		}
		assessment.Grades = nil
		return tx.Assessments().Update(ctx, &assessment)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist_failed")
		return dto.AssessmentResponse{}, err
	}

	span.SetAttributes(attribute.Float64("assessment.grade", grade))
	s.emit(ctx, events.Event{
		Name:       events.AssessmentSubmitted,
		WorkshopID: workshopID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		EntityType: events.EntityAssessment,
		EntityID:   assessment.ID,
		Data: map[string]interface{}{
			"submission_id": assessment.SubmissionID,
			"strategy":      strategy.Name(),
			"grade":         grade,
			"percent":       result.Percent,
		},
	})

	return s.response(ctx, assessment.ID)
}

// OverrideGradingGrade sets or clears the teacher's grading grade for one
// assessment. During evaluation the reviewer's total is recomputed at once.
func (s *assessmentService) OverrideGradingGrade(ctx context.Context, workshopID, assessmentID uint, payload dto.GradeOverrideRequest, actor ActivityActor) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessment.override_grading_grade", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int64("assessment.id", int64(assessmentID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return dto.AssessmentResponse{}, err
	}

	workshop, assessment, _, err := s.load(ctx, workshopID, assessmentID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	if payload.Grade != nil && *payload.Grade > workshop.GradingGrade+1e-9 {
		return dto.AssessmentResponse{}, ErrGradeExceedsMax
	}

	previous := assessment.GradingGradeOver
	assessment.GradingGradeOver = payload.Grade
	assessment.GradingGradeOverBy = nil
	if payload.Grade != nil {
		by := actor.ID
		assessment.GradingGradeOverBy = &by
	}
	assessment.Grades = nil
	if err := s.store.Assessments().Update(ctx, &assessment); err != nil {
		span.RecordError(err)
		return dto.AssessmentResponse{}, err
	}

	if workshop.Phase >= models.PhaseEvaluation && s.evaluator != nil {
		if _, err := s.evaluator.Run(ctx, workshopID, []uint{assessment.ReviewerID}); err != nil {
			span.RecordError(err)
			return dto.AssessmentResponse{}, err
		}
	}

	s.emit(ctx, events.Event{
		Name:       events.AssessmentGradeOverridden,
		WorkshopID: workshopID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		EntityType: events.EntityAssessment,
		EntityID:   assessment.ID,
		Data: map[string]interface{}{
			"reviewer_id":        assessment.ReviewerID,
			"previous":           floatValue(previous),
			"grading_grade_over": floatValue(payload.Grade),
		},
	})

	return s.response(ctx, assessment.ID)
}

// SetWeight changes how much one review counts. During evaluation every
// reviewer of the submission is re-evaluated, since the consensus moves.
func (s *assessmentService) SetWeight(ctx context.Context, workshopID, assessmentID uint, payload dto.AssessmentWeightRequest, actor ActivityActor) (dto.AssessmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assessment.set_weight", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int64("assessment.id", int64(assessmentID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return dto.AssessmentResponse{}, err
	}

	workshop, assessment, _, err := s.load(ctx, workshopID, assessmentID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}

	previous := assessment.Weight
	if previous == *payload.Weight {
		return s.response(ctx, assessment.ID)
	}
	assessment.Weight = *payload.Weight
	assessment.Grades = nil
	if err := s.store.Assessments().Update(ctx, &assessment); err != nil {
		span.RecordError(err)
		return dto.AssessmentResponse{}, err
	}

	if workshop.Phase >= models.PhaseEvaluation && s.evaluator != nil {
		siblings, err := s.store.Assessments().List(ctx, repository.AssessmentFilter{
			WorkshopID:    workshopID,
			SubmissionIDs: []uint{assessment.SubmissionID},
		})
		if err != nil {
			return dto.AssessmentResponse{}, err
		}
		reviewers := make([]uint, 0, len(siblings))
		for _, sibling := range siblings {
			reviewers = append(reviewers, sibling.ReviewerID)
		}
		if _, err := s.evaluator.Run(ctx, workshopID, reviewers); err != nil {
			span.RecordError(err)
			return dto.AssessmentResponse{}, err
		}
	}

	s.emit(ctx, events.Event{
		Name:       events.AssessmentWeightChanged,
		WorkshopID: workshopID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		EntityType: events.EntityAssessment,
		EntityID:   assessment.ID,
		Data: map[string]interface{}{
			"reviewer_id":   assessment.ReviewerID,
			"submission_id": assessment.SubmissionID,
			"previous":      previous,
			"weight":        assessment.Weight,
		},
	})

	return s.response(ctx, assessment.ID)
}

func (s *assessmentService) load(ctx context.Context, workshopID, assessmentID uint) (models.Workshop, models.Assessment, models.Submission, error) {
	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		return models.Workshop{}, models.Assessment{}, models.Submission{}, err
	}
	assessment, err := s.store.Assessments().GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrAssessmentNotFound
		}
		return models.Workshop{}, models.Assessment{}, models.Submission{}, err
	}
	submission, err := s.store.Submissions().GetByID(ctx, assessment.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrAssessmentNotFound
		}
		return models.Workshop{}, models.Assessment{}, models.Submission{}, err
	}
	if submission.WorkshopID != workshopID {
		return models.Workshop{}, models.Assessment{}, models.Submission{}, ErrAssessmentNotFound
	}
	return workshop, assessment, submission, nil
}

func (s *assessmentService) response(ctx context.Context, assessmentID uint) (dto.AssessmentResponse, error) {
	refreshed, err := s.store.Assessments().GetByID(ctx, assessmentID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	return dto.NewAssessmentResponse(refreshed), nil
}

func (s *assessmentService) emit(ctx context.Context, event events.Event) {
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Name).Uint("workshop_id", event.WorkshopID).Msg("event delivery failed")
	}
}

// assessmentOpen: example submissions can be practised on from the
// submission phase, real ones only inside the assessment window.
func assessmentOpen(workshop models.Workshop, submission models.Submission, now time.Time) bool {
	if submission.Example && workshop.Phase == models.PhaseSubmission {
		return true
	}
	return workshop.AcceptsAssessments(now)
}
