package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/dto"
	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// Allocator is the allocation engine used by the service.
type Allocator interface {
	ExecuteRandom(ctx context.Context, workshopID uint, settings allocation.RandomSettings, actorID uint) (allocation.Result, error)
	AddManual(ctx context.Context, workshopID, submissionID, reviewerID, actorID uint) (models.Assessment, error)
	RemoveManual(ctx context.Context, workshopID, assessmentID uint, force bool, actorID uint) error
	ConfigureScheduled(ctx context.Context, workshopID uint, enabled bool, settings allocation.RandomSettings) (models.ScheduledAllocation, error)
}

// AllocationService exposes reviewer allocation to teachers.
type AllocationService interface {
	Random(ctx context.Context, workshopID uint, payload dto.RandomAllocationRequest, actor ActivityActor) (allocation.Result, error)
	Add(ctx context.Context, workshopID uint, payload dto.ManualAllocationRequest, actor ActivityActor) (dto.AssessmentResponse, error)
	Remove(ctx context.Context, workshopID, assessmentID uint, force bool, actor ActivityActor) error
	ConfigureScheduled(ctx context.Context, workshopID uint, payload dto.ScheduledAllocationRequest, actor ActivityActor) (*dto.ScheduledAllocationResponse, error)
}

type allocationService struct {
	allocator Allocator
	caps      Capabilities
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAllocationService constructs the allocation service.
func NewAllocationService(allocator Allocator, caps Capabilities, validate *validator.Validate, logger zerolog.Logger) AllocationService {
	return &allocationService{
		allocator: allocator,
		caps:      caps,
		validator: validate,
		logger:    logger.With().Str("component", "allocation_service").Logger(),
	}
}

func (s *allocationService) Random(ctx context.Context, workshopID uint, payload dto.RandomAllocationRequest, actor ActivityActor) (allocation.Result, error) {
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return allocation.Result{}, err
	}
	return s.allocator.ExecuteRandom(ctx, workshopID, randomSettingsFromRequest(payload), actor.ID)
}

func (s *allocationService) Add(ctx context.Context, workshopID uint, payload dto.ManualAllocationRequest, actor ActivityActor) (dto.AssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return dto.AssessmentResponse{}, err
	}

	assessment, err := s.allocator.AddManual(ctx, workshopID, payload.SubmissionID, payload.ReviewerID, actor.ID)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	return dto.NewAssessmentResponse(assessment), nil
}

func (s *allocationService) Remove(ctx context.Context, workshopID, assessmentID uint, force bool, actor ActivityActor) error {
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return err
	}
	return s.allocator.RemoveManual(ctx, workshopID, assessmentID, force, actor.ID)
}

func (s *allocationService) ConfigureScheduled(ctx context.Context, workshopID uint, payload dto.ScheduledAllocationRequest, actor ActivityActor) (*dto.ScheduledAllocationResponse, error) {
	if err := requireManage(ctx, s.caps, workshopID, actor); err != nil {
		return nil, err
	}

	record, err := s.allocator.ConfigureScheduled(ctx, workshopID, payload.Enabled, randomSettingsFromRequest(payload.Settings))
	if err != nil {
		return nil, err
	}
	s.logger.Info().Uint("workshop_id", workshopID).Bool("enabled", record.Enabled).Msg("scheduled allocation configured")
	return dto.NewScheduledAllocationResponse(record), nil
}

func randomSettingsFromRequest(payload dto.RandomAllocationRequest) allocation.RandomSettings {
	settings := allocation.DefaultRandomSettings()
	if payload.NumOfReviews != nil {
		settings.NumOfReviews = *payload.NumOfReviews
	}
	if payload.NumPer != "" {
		settings.NumPer = payload.NumPer
	}
	settings.ExcludeSameGroup = payload.ExcludeSameGroup
	settings.RemoveCurrent = payload.RemoveCurrent
	settings.AssessWithoutSubmission = payload.AssessWithoutSubmission
	settings.AddSelfAssessment = payload.AddSelfAssessment
	return settings
}
