package allocation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/observability"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

// Allocation policies.
const (
	PolicyRandom    = "random"
	PolicyManual    = "manual"
	PolicyScheduled = "scheduled"
)

// Result is the report of one allocation run. It is returned to the caller
// and, for scheduled runs, stored on the scheduled allocation record.
type Result struct {
	WorkshopID uint      `json:"workshop_id"`
	Policy     string    `json:"policy"`
	Status     string    `json:"status"`
	Seed       int64     `json:"seed"`
	Added      []Edge    `json:"added"`
	Removed    []Edge    `json:"removed"`
	Kept       int       `json:"kept"`
	Issues     []Issue   `json:"issues"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Warnings counts the warning-level issues.
func (r Result) Warnings() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Level == LevelWarning {
			count++
		}
	}
	return count
}

// Summary is a one-line human readable description.
func (r Result) Summary() string {
	return fmt.Sprintf("%d added, %d removed, %d kept, %d warnings", len(r.Added), len(r.Removed), r.Kept, r.Warnings())
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithSeed fixes the random source seed. Zero seeds from the clock.
func WithSeed(seed int64) Option {
	return func(a *Allocator) { a.seed = seed }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// Allocator applies allocation policies to a workshop.
type Allocator struct {
	store     repository.Store
	sink      events.Sink
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	seed      int64
}

// NewAllocator constructs the allocator.
func NewAllocator(store repository.Store, sink events.Sink, validate *validator.Validate, logger zerolog.Logger, opts ...Option) *Allocator {
	if sink == nil {
		sink = events.Nop{}
	}
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	a := &Allocator{
		store:     store,
		sink:      sink,
		validator: validate,
		logger:    logger.With().Str("component", "allocator").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/allocation"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ExecuteRandom runs the random policy. Invalid settings and an empty reviewer
// pool fail before anything is written; otherwise the whole batch commits.
func (a *Allocator) ExecuteRandom(ctx context.Context, workshopID uint, settings RandomSettings, actorID uint) (Result, error) {
	if err := settings.Validate(a.validator); err != nil {
		return Result{}, err
	}

	ctx, span := a.tracer.Start(ctx, "allocation.random", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int("allocation.num_of_reviews", settings.NumOfReviews),
		attribute.String("allocation.num_per", settings.NumPer),
	))
	defer span.End()

	var result Result
	err := a.store.Transaction(ctx, func(tx repository.Store) error {
		workshop, err := tx.Workshops().GetForUpdate(ctx, workshopID)
		if err != nil {
			return err
		}
		result, err = a.allocate(ctx, tx, workshop, settings, PolicyRandom)
		return err
	})
	if err != nil {
		span.RecordError(err)
		observability.AllocationRuns().WithLabelValues(PolicyRandom, models.AllocationStatusFailed).Inc()
		return Result{}, err
	}

	a.record(ctx, result, actorID, events.AllocationExecuted)
	return result, nil
}

// allocate plans and applies a random allocation inside tx.
func (a *Allocator) allocate(ctx context.Context, tx repository.Store, workshop models.Workshop, settings RandomSettings, policy string) (Result, error) {
	if settings.AddSelfAssessment && !workshop.UseSelfAssessment {
		return Result{}, ErrSelfAssessmentDisabled
	}

	input, err := a.loadInput(ctx, tx, workshop, settings)
	if err != nil {
		return Result{}, err
	}

	seed := a.seed
	if seed == 0 {
		seed = a.now().UnixNano()
	}
	result := Result{
		WorkshopID: workshop.ID,
		Policy:     policy,
		Seed:       seed,
		Added:      []Edge{},
		Removed:    []Edge{},
		Issues:     []Issue{},
		ExecutedAt: a.now().UTC(),
	}

	if len(input.Submissions) == 0 {
		result.Status = models.AllocationStatusVoid
		result.Issues = append(result.Issues, Issue{Level: LevelInfo, Message: "no submissions to allocate"})
		return result, nil
	}
	if len(input.Reviewers) == 0 {
		return Result{}, ErrNoReviewers
	}

	plan := PlanRandom(input, settings, rand.New(rand.NewSource(seed)))

	if len(plan.Remove) > 0 {
		ids := make([]uint, 0, len(plan.Remove))
		for _, edge := range plan.Remove {
			ids = append(ids, edge.AssessmentID)
		}
		if _, err := tx.Assessments().Delete(ctx, repository.AssessmentFilter{IDs: ids, IncludeExamples: true}); err != nil {
			return Result{}, fmt.Errorf("remove current allocations: %w", err)
		}
	}

	for i, edge := range plan.Add {
		assessment := models.Assessment{
			SubmissionID:   edge.SubmissionID,
			ReviewerID:     edge.ReviewerID,
			Weight:         1,
			SelfAssessment: edge.Self,
		}
		if _, err := tx.Assessments().Upsert(ctx, &assessment); err != nil {
			return Result{}, fmt.Errorf("add allocation: %w", err)
		}
		plan.Add[i].AssessmentID = assessment.ID
	}

	result.Status = models.AllocationStatusExecuted
	result.Added = append(result.Added, plan.Add...)
	result.Removed = append(result.Removed, plan.Remove...)
	result.Kept = len(plan.Keep)
	result.Issues = append(result.Issues, plan.Issues...)
	return result, nil
}

func (a *Allocator) loadInput(ctx context.Context, tx repository.Store, workshop models.Workshop, settings RandomSettings) (Input, error) {
	notExample := false
	submissions, err := tx.Submissions().List(ctx, repository.SubmissionFilter{WorkshopID: workshop.ID, Example: &notExample})
	if err != nil {
		return Input{}, err
	}

	input := Input{AllowSelfAssessment: workshop.UseSelfAssessment}
	authors := make(map[uint]bool, len(submissions))
	for _, submission := range submissions {
		input.Submissions = append(input.Submissions, SubmissionRef{ID: submission.ID, AuthorID: submission.AuthorID})
		authors[submission.AuthorID] = true
	}

	reviewers := make(map[uint]bool, len(authors))
	for author := range authors {
		reviewers[author] = true
	}
	if settings.AssessWithoutSubmission {
		students, err := tx.Participants().List(ctx, workshop.ID, models.ParticipantRoleStudent)
		if err != nil {
			return Input{}, err
		}
		for _, student := range students {
			reviewers[student.UserID] = true
		}
	}
	for reviewer := range reviewers {
		input.Reviewers = append(input.Reviewers, reviewer)
	}
	sort.Slice(input.Reviewers, func(i, j int) bool { return input.Reviewers[i] < input.Reviewers[j] })

	if settings.ExcludeSameGroup && workshop.UsesGroups() {
		input.Groups, err = tx.Participants().GroupMemberships(ctx, workshop.ID)
		if err != nil {
			return Input{}, err
		}
		if input.Groups == nil {
			input.Groups = map[uint][]uint{}
		}
	}

	current, err := tx.Assessments().List(ctx, repository.AssessmentFilter{WorkshopID: workshop.ID})
	if err != nil {
		return Input{}, err
	}
	authorOf := make(map[uint]uint, len(submissions))
	for _, submission := range submissions {
		authorOf[submission.ID] = submission.AuthorID
	}
	for _, assessment := range current {
		author := authorOf[assessment.SubmissionID]
		input.Existing = append(input.Existing, Edge{
			AssessmentID: assessment.ID,
			SubmissionID: assessment.SubmissionID,
			AuthorID:     author,
			ReviewerID:   assessment.ReviewerID,
			Self:         assessment.SelfAssessment || assessment.ReviewerID == author,
			Graded:       assessment.Completed(),
		})
	}

	return input, nil
}

func (a *Allocator) record(ctx context.Context, result Result, actorID uint, eventName string) {
	observability.AllocationRuns().WithLabelValues(result.Policy, result.Status).Inc()
	observability.AllocationEdges().WithLabelValues(result.Policy, "added").Add(float64(len(result.Added)))
	observability.AllocationEdges().WithLabelValues(result.Policy, "removed").Add(float64(len(result.Removed)))

	a.logger.Info().
		Uint("workshop_id", result.WorkshopID).
		Str("policy", result.Policy).
		Str("status", result.Status).
		Int("added", len(result.Added)).
		Int("removed", len(result.Removed)).
		Int("warnings", result.Warnings()).
		Msg("allocation finished")

	event := events.Event{
		Name:       eventName,
		WorkshopID: result.WorkshopID,
		ActorID:    actorID,
		EntityType: events.EntityWorkshop,
		EntityID:   result.WorkshopID,
		Data: map[string]interface{}{
			"policy":   result.Policy,
			"status":   result.Status,
			"added":    len(result.Added),
			"removed":  len(result.Removed),
			"kept":     result.Kept,
			"warnings": result.Warnings(),
			"summary":  result.Summary(),
		},
	}
	if err := a.sink.Emit(ctx, event); err != nil {
		a.logger.Warn().Err(err).Uint("workshop_id", result.WorkshopID).Msg("allocation notification delivery failed")
	}
}

// IsConfigurationError reports whether err is a validation failure raised before any mutation.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidSettings) ||
		errors.Is(err, ErrNoReviewers) ||
		errors.Is(err, ErrSelfAssessmentDisabled)
}
