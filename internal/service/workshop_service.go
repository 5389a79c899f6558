package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

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
	"github.com/noah-isme/gema-workshop-api/internal/evaluation"
	"github.com/noah-isme/gema-workshop-api/internal/grading"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/phase"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

// PhaseSwitcher moves workshops between phases.
type PhaseSwitcher interface {
	Switch(ctx context.Context, workshopID uint, target models.Phase, actorID uint) (phase.Transition, error)
}

// ScheduledChecker runs the scheduled allocation when it is due.
type ScheduledChecker interface {
	CheckScheduled(ctx context.Context, workshopID uint, trigger string) (allocation.ScheduledOutcome, error)
}

// GradeEvaluator recomputes grades and grading grades.
type GradeEvaluator interface {
	Run(ctx context.Context, workshopID uint, restrictReviewers []uint) (evaluation.Report, error)
}

// WorkshopService exposes the teacher-facing workshop operations.
type WorkshopService interface {
	Create(ctx context.Context, payload dto.WorkshopCreateRequest, actor ActivityActor) (dto.WorkshopResponse, error)
	Get(ctx context.Context, workshopID uint, actor ActivityActor) (dto.WorkshopResponse, error)
	Update(ctx context.Context, workshopID uint, payload dto.WorkshopUpdateRequest, actor ActivityActor) (dto.WorkshopResponse, error)
	SwitchPhase(ctx context.Context, workshopID uint, payload dto.PhaseSwitchRequest, actor ActivityActor) (dto.PhaseTransitionResponse, error)
	SaveForm(ctx context.Context, workshopID uint, payload dto.FormRequest, actor ActivityActor) error
	Enrol(ctx context.Context, workshopID uint, payload dto.ParticipantsRequest, actor ActivityActor) (int, error)
	Aggregate(ctx context.Context, workshopID uint, actor ActivityActor) (evaluation.Report, error)
	Activity(ctx context.Context, req dto.ActivityListRequest, actor ActivityActor) (dto.ActivityListResponse, error)
}

type workshopService struct {
	store     repository.Store
	caps      Capabilities
	phases    PhaseSwitcher
	scheduled ScheduledChecker
	evaluator GradeEvaluator
	activity  ActivityService
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewWorkshopService constructs the workshop service.
func NewWorkshopService(store repository.Store, caps Capabilities, phases PhaseSwitcher, scheduled ScheduledChecker, evaluator GradeEvaluator, activity ActivityService, validate *validator.Validate, logger zerolog.Logger) WorkshopService {
	return &workshopService{
		store:     store,
		caps:      caps,
		phases:    phases,
		scheduled: scheduled,
		evaluator: evaluator,
		activity:  activity,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "workshop_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/service/workshop"),
	}
}

func (s *workshopService) Create(ctx context.Context, payload dto.WorkshopCreateRequest, actor ActivityActor) (dto.WorkshopResponse, error) {
	ctx, span := s.tracer.Start(ctx, "workshop.create")
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.WorkshopResponse{}, err
	}

	workshop := models.Workshop{
		CourseID:              payload.CourseID,
		Name:                  strings.TrimSpace(s.sanitizer.Sanitize(payload.Name)),
		Phase:                 models.PhaseSetup,
		Strategy:              defaultString(payload.Strategy, models.StrategyAccumulative),
		EvaluationMethod:      defaultString(payload.EvaluationMethod, models.EvaluationMean),
		EvaluationComparison:  payload.EvaluationComparison,
		Grade:                 models.DefaultWorkshopGrade,
		GradingGrade:          models.DefaultWorkshopGradingGrade,
		UseSelfAssessment:     payload.UseSelfAssessment,
		UseExamples:           payload.UseExamples,
		LateSubmissions:       payload.LateSubmissions,
		PhaseSwitchAssessment: payload.PhaseSwitchAssessment,
		GroupMode:             defaultString(payload.GroupMode, models.GroupModeNone),
		SubmissionStart:       payload.SubmissionStart,
		SubmissionEnd:         payload.SubmissionEnd,
		AssessmentStart:       payload.AssessmentStart,
		AssessmentEnd:         payload.AssessmentEnd,
	}
	if workshop.EvaluationComparison == 0 {
		workshop.EvaluationComparison = models.DefaultEvaluationComparison
	}
	if workshop.Name == "" {
		return dto.WorkshopResponse{}, fmt.Errorf("workshop name empty after sanitization")
	}

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Workshops().Create(ctx, &workshop); err != nil {
			return err
		}
		// zero maxima are dropped by the column defaults on insert
		zeroes := map[string]interface{}{}
		if payload.Grade != nil {
			workshop.Grade = *payload.Grade
			zeroes["grade"] = workshop.Grade
		}
		if payload.GradingGrade != nil {
			workshop.GradingGrade = *payload.GradingGrade
			zeroes["grading_grade"] = workshop.GradingGrade
		}
		if len(zeroes) > 0 {
			if err := tx.Workshops().UpdateFields(ctx, workshop.ID, zeroes); err != nil {
				return err
			}
		}
		if actor.ID == 0 {
			return nil
		}
		return tx.Participants().Add(ctx, &models.Participant{
			WorkshopID: workshop.ID,
			UserID:     actor.ID,
			Role:       models.ParticipantRoleTeacher,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create_failed")
		return dto.WorkshopResponse{}, err
	}

	span.SetAttributes(attribute.Int64("workshop.id", int64(workshop.ID)))
	s.audit(ctx, actor, workshop.ID, "workshop.created", map[string]interface{}{"name": workshop.Name})

	response := dto.NewWorkshopResponse(workshop)
	response.CanManage = true
	return response, nil
}

// Get returns the workshop. Viewing a workshop also gives the scheduled
// allocation a chance to run when its deadline has passed.
func (s *workshopService) Get(ctx context.Context, workshopID uint, actor ActivityActor) (dto.WorkshopResponse, error) {
	ctx, span := s.tracer.Start(ctx, "workshop.view", trace.WithAttributes(attribute.Int64("workshop.id", int64(workshopID))))
	defer span.End()

	if s.scheduled != nil {
		if _, err := s.scheduled.CheckScheduled(ctx, workshopID, allocation.TriggerView); err != nil && !errors.Is(err, repository.ErrWorkshopNotFound) {
			s.logger.Warn().Err(err).Uint("workshop_id", workshopID).Msg("scheduled allocation check on view failed")
		}
	}

	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		span.RecordError(err)
		return dto.WorkshopResponse{}, err
	}

	canManage, err := s.caps.CanManage(ctx, workshopID, actor)
	if err != nil {
		return dto.WorkshopResponse{}, err
	}
	if !canManage {
		participant, err := s.caps.IsParticipant(ctx, workshopID, actor)
		if err != nil {
			return dto.WorkshopResponse{}, err
		}
		if !participant {
			return dto.WorkshopResponse{}, ErrForbidden
		}
	}

	response := dto.NewWorkshopResponse(workshop)
	response.CanManage = canManage
	if canManage {
		record, err := s.store.ScheduledAllocations().Get(ctx, workshopID)
		switch {
		case err == nil:
			response.Scheduled = dto.NewScheduledAllocationResponse(record)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return dto.WorkshopResponse{}, err
		}
	}
	return response, nil
}

func (s *workshopService) Update(ctx context.Context, workshopID uint, payload dto.WorkshopUpdateRequest, actor ActivityActor) (dto.WorkshopResponse, error) {
	ctx, span := s.tracer.Start(ctx, "workshop.update", trace.WithAttributes(attribute.Int64("workshop.id", int64(workshopID))))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return dto.WorkshopResponse{}, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return dto.WorkshopResponse{}, err
	}

	fields := map[string]interface{}{}
	if payload.Name != nil {
		name := strings.TrimSpace(s.sanitizer.Sanitize(*payload.Name))
		if name == "" {
			return dto.WorkshopResponse{}, fmt.Errorf("workshop name empty after sanitization")
		}
		fields["name"] = name
	}
	setIfPresent(fields, "strategy", payload.Strategy)
	setIfPresent(fields, "evaluation_method", payload.EvaluationMethod)
	setIfPresent(fields, "evaluation_comparison", payload.EvaluationComparison)
	setIfPresent(fields, "grade", payload.Grade)
	setIfPresent(fields, "grading_grade", payload.GradingGrade)
	setIfPresent(fields, "use_self_assessment", payload.UseSelfAssessment)
	setIfPresent(fields, "use_examples", payload.UseExamples)
	setIfPresent(fields, "late_submissions", payload.LateSubmissions)
	setIfPresent(fields, "phase_switch_assessment", payload.PhaseSwitchAssessment)
	setIfPresent(fields, "group_mode", payload.GroupMode)
	setIfPresent(fields, "submission_start", payload.SubmissionStart)
	setIfPresent(fields, "submission_end", payload.SubmissionEnd)
	setIfPresent(fields, "assessment_start", payload.AssessmentStart)
	setIfPresent(fields, "assessment_end", payload.AssessmentEnd)

	if len(fields) > 0 {
		if err := s.store.Workshops().UpdateFields(ctx, workshopID, fields); err != nil {
			span.RecordError(err)
			return dto.WorkshopResponse{}, err
		}
		s.audit(ctx, actor, workshopID, "workshop.updated", map[string]interface{}{"fields": fieldNames(fields)})
	}

	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		return dto.WorkshopResponse{}, err
	}
	response := dto.NewWorkshopResponse(workshop)
	response.CanManage = true
	return response, nil
}

func (s *workshopService) SwitchPhase(ctx context.Context, workshopID uint, payload dto.PhaseSwitchRequest, actor ActivityActor) (dto.PhaseTransitionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.PhaseTransitionResponse{}, err
	}
	target, err := phase.ParsePhase(payload.Phase)
	if err != nil {
		return dto.PhaseTransitionResponse{}, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return dto.PhaseTransitionResponse{}, err
	}

	transition, err := s.phases.Switch(ctx, workshopID, target, actor.ID)
	if err != nil {
		return dto.PhaseTransitionResponse{}, err
	}

	return dto.PhaseTransitionResponse{
		WorkshopID: transition.WorkshopID,
		Previous:   transition.Previous,
		Phase:      transition.Target,
		PhaseName:  transition.Target.String(),
		Changed:    transition.Changed,
	}, nil
}

// SaveForm replaces the assessment form after checking it against the
// workshop's grading strategy.
func (s *workshopService) SaveForm(ctx context.Context, workshopID uint, payload dto.FormRequest, actor ActivityActor) error {
	ctx, span := s.tracer.Start(ctx, "workshop.save_form", trace.WithAttributes(attribute.Int64("workshop.id", int64(workshopID))))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return err
	}

	workshop, err := s.store.Workshops().GetByID(ctx, workshopID)
	if err != nil {
		return err
	}
	strategy, err := grading.ForStrategy(workshop.Strategy)
	if err != nil {
		return err
	}

	dimensions := make([]models.FormDimension, 0, len(payload.Dimensions))
	for i, item := range payload.Dimensions {
		dimension := models.FormDimension{
			Sort:        i + 1,
			Description: strings.TrimSpace(s.sanitizer.Sanitize(item.Description)),
			MaxGrade:    item.MaxGrade,
			Weight:      item.Weight,
		}
		if dimension.Weight == 0 {
			dimension.Weight = 1
		}
		for _, level := range item.Levels {
			dimension.Levels = append(dimension.Levels, models.RubricLevel{
				Grade:      level.Grade,
				Definition: strings.TrimSpace(s.sanitizer.Sanitize(level.Definition)),
			})
		}
		dimensions = append(dimensions, dimension)
	}
	mappings := make([]models.NumErrorsMapping, 0, len(payload.Mappings))
	for _, item := range payload.Mappings {
		mappings = append(mappings, models.NumErrorsMapping{Errors: item.Errors, Percent: item.Percent})
	}

	// level ids are not assigned yet; give them temporary ones so the
	// strategy can check the form shape
	candidate := grading.FormFromModels(dimensions, mappings)
	for i := range candidate.Dimensions {
		candidate.Dimensions[i].ID = uint(i + 1)
		for j := range candidate.Dimensions[i].Levels {
			candidate.Dimensions[i].Levels[j].ID = uint(j + 1)
		}
	}
	if err := strategy.Validate(candidate); err != nil {
		span.RecordError(err)
		return err
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Forms().ReplaceDimensions(ctx, workshopID, dimensions); err != nil {
			return err
		}
		return tx.Forms().ReplaceMappings(ctx, workshopID, mappings)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.audit(ctx, actor, workshopID, "workshop.form_saved", map[string]interface{}{
		"strategy":   workshop.Strategy,
		"dimensions": len(dimensions),
		"mappings":   len(mappings),
	})
	return nil
}

// Enrol registers participants and their group memberships.
func (s *workshopService) Enrol(ctx context.Context, workshopID uint, payload dto.ParticipantsRequest, actor ActivityActor) (int, error) {
	if err := s.validator.Struct(payload); err != nil {
		return 0, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return 0, err
	}
	if _, err := s.store.Workshops().GetByID(ctx, workshopID); err != nil {
		return 0, err
	}

	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		memberships, err := tx.Participants().GroupMemberships(ctx, workshopID)
		if err != nil {
			return err
		}
		for _, item := range payload.Participants {
			if err := tx.Participants().Add(ctx, &models.Participant{
				WorkshopID: workshopID,
				UserID:     item.UserID,
				Role:       item.Role,
			}); err != nil {
				return err
			}
			if item.GroupID == nil || containsUint(memberships[item.UserID], *item.GroupID) {
				continue
			}
			if err := tx.Participants().AddGroupMember(ctx, &models.GroupMember{
				WorkshopID: workshopID,
				GroupID:    *item.GroupID,
				UserID:     item.UserID,
			}); err != nil {
				return err
			}
			memberships[item.UserID] = append(memberships[item.UserID], *item.GroupID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(payload.Participants), nil
}

func (s *workshopService) Aggregate(ctx context.Context, workshopID uint, actor ActivityActor) (evaluation.Report, error) {
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return evaluation.Report{}, err
	}
	return s.evaluator.Run(ctx, workshopID, nil)
}

func (s *workshopService) Activity(ctx context.Context, req dto.ActivityListRequest, actor ActivityActor) (dto.ActivityListResponse, error) {
	if err := requireManage(ctx, s.caps, req.WorkshopID, actor); err != nil {
		return dto.ActivityListResponse{}, err
	}
	return s.activity.List(ctx, req)
}

func (s *workshopService) audit(ctx context.Context, actor ActivityActor, workshopID uint, action string, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	id := workshopID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		WorkshopID: &id,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "workshop",
		EntityID:   &id,
		Metadata:   metadata,
	}); err != nil {
		s.logger.Warn().Err(err).Uint("workshop_id", workshopID).Str("action", action).Msg("failed to record activity")
	}
}

func setIfPresent[T any](fields map[string]interface{}, column string, value *T) {
	if value != nil {
		fields[column] = *value
	}
}

func fieldNames(fields map[string]interface{}) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func containsUint(values []uint, target uint) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
