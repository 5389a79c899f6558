// Package evaluation computes grades for submission from peer assessments and
// grades for assessment ("grading grades") from how closely each reviewer
// agreed with the reference grade of the submission they assessed.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/grading"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/observability"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

// ErrInvalidSettings indicates the evaluation settings failed validation.
var ErrInvalidSettings = errors.New("invalid evaluation settings")

// Settings selects how the reference grade is built and how strictly
// disagreement is punished. Comparison 5 is the neutral strictness; lower
// values are more lenient, higher values stricter.
type Settings struct {
	Method     string `json:"method" validate:"required,oneof=mean median teacher"`
	Comparison int    `json:"comparison" validate:"gte=1,lte=9"`
}

// SettingsFor reads the evaluation settings stored on the workshop.
func SettingsFor(workshop models.Workshop) Settings {
	settings := Settings{Method: workshop.EvaluationMethod, Comparison: workshop.EvaluationComparison}
	if settings.Method == "" {
		settings.Method = models.EvaluationMean
	}
	if settings.Comparison == 0 {
		settings.Comparison = models.DefaultEvaluationComparison
	}
	return settings
}

// Change is one grading grade that moved.
type Change struct {
	AssessmentID uint     `json:"assessment_id"`
	SubmissionID uint     `json:"submission_id"`
	ReviewerID   uint     `json:"reviewer_id"`
	Previous     *float64 `json:"previous"`
	Current      *float64 `json:"current"`
	Final        *float64 `json:"final"`
}

// Report summarises an evaluation run.
type Report struct {
	WorkshopID          uint      `json:"workshop_id"`
	Method              string    `json:"method"`
	Comparison          int       `json:"comparison"`
	SubmissionsGraded   int       `json:"submissions_graded"`
	Evaluated           int       `json:"evaluated"`
	Reevaluated         int       `json:"reevaluated"`
	Unchanged           int       `json:"unchanged"`
	ReviewersAggregated int       `json:"reviewers_aggregated"`
	Changes             []Change  `json:"changes"`
	RanAt               time.Time `json:"ran_at"`
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// Evaluator writes submission grades, grading grades and per-reviewer aggregations.
type Evaluator struct {
	store     repository.Store
	sink      events.Sink
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewEvaluator constructs the evaluator.
func NewEvaluator(store repository.Store, sink events.Sink, validate *validator.Validate, logger zerolog.Logger, opts ...Option) *Evaluator {
	if sink == nil {
		sink = events.Nop{}
	}
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	e := &Evaluator{
		store:     store,
		sink:      sink,
		validator: validate,
		logger:    logger.With().Str("component", "evaluator").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/evaluation"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AggregateSubmissionGrades sets every real submission's grade to the
// weight-weighted mean of its completed, counted peer grades.
func (e *Evaluator) AggregateSubmissionGrades(ctx context.Context, workshopID uint) (int, error) {
	var updated int
	err := e.store.Transaction(ctx, func(tx repository.Store) error {
		if _, err := tx.Workshops().GetForUpdate(ctx, workshopID); err != nil {
			return err
		}
		var err error
		updated, err = e.aggregateSubmissionGrades(ctx, tx, workshopID)
		return err
	})
	return updated, err
}

// UpdateGradingGrades recomputes grading grades. When restrictReviewers is
// non-empty only those reviewers' assessments are written, while the
// reference grade still considers every assessment of the submission.
func (e *Evaluator) UpdateGradingGrades(ctx context.Context, workshopID uint, settings Settings, restrictReviewers []uint) (Report, error) {
	if err := e.validator.Struct(settings); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	ctx, span := e.tracer.Start(ctx, "evaluation.update_grading_grades", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.String("evaluation.method", settings.Method),
	))
	defer span.End()

	var report Report
	err := e.store.Transaction(ctx, func(tx repository.Store) error {
		workshop, err := tx.Workshops().GetForUpdate(ctx, workshopID)
		if err != nil {
			return err
		}
		report, err = e.updateGradingGrades(ctx, tx, workshop, settings, restrictReviewers)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	e.publish(ctx, report)
	return report, nil
}

// AggregateGradingGrades stores each reviewer's mean effective grading grade.
func (e *Evaluator) AggregateGradingGrades(ctx context.Context, workshopID uint, restrictReviewers []uint) (int, error) {
	var count int
	err := e.store.Transaction(ctx, func(tx repository.Store) error {
		if _, err := tx.Workshops().GetForUpdate(ctx, workshopID); err != nil {
			return err
		}
		var err error
		count, err = e.aggregateGradingGrades(ctx, tx, workshopID, restrictReviewers)
		return err
	})
	return count, err
}

// Run performs the full aggregation with the workshop's own settings in one transaction.
func (e *Evaluator) Run(ctx context.Context, workshopID uint, restrictReviewers []uint) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "evaluation.run", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
	))
	defer span.End()

	var report Report
	err := e.store.Transaction(ctx, func(tx repository.Store) error {
		workshop, err := tx.Workshops().GetForUpdate(ctx, workshopID)
		if err != nil {
			return err
		}
		settings := SettingsFor(workshop)
		if err := e.validator.Struct(settings); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}

		graded, err := e.aggregateSubmissionGrades(ctx, tx, workshopID)
		if err != nil {
			return err
		}
		report, err = e.updateGradingGrades(ctx, tx, workshop, settings, restrictReviewers)
		if err != nil {
			return err
		}
		report.SubmissionsGraded = graded
		report.ReviewersAggregated, err = e.aggregateGradingGrades(ctx, tx, workshopID, restrictReviewers)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	e.publish(ctx, report)
	if err := e.sink.Emit(ctx, events.Event{
		Name:       events.GradesAggregated,
		WorkshopID: workshopID,
		EntityType: events.EntityWorkshop,
		EntityID:   workshopID,
		Data: map[string]interface{}{
			"submissions_graded":   report.SubmissionsGraded,
			"evaluated":            report.Evaluated,
			"reevaluated":          report.Reevaluated,
			"reviewers_aggregated": report.ReviewersAggregated,
		},
	}); err != nil {
		e.logger.Warn().Err(err).Uint("workshop_id", workshopID).Msg("aggregation notification delivery failed")
	}
	return report, nil
}

// HandlePhaseSwitched runs the aggregation when a workshop enters the evaluation phase.
func (e *Evaluator) HandlePhaseSwitched(ctx context.Context, event events.Event) error {
	target, ok := event.Uint("target_phase")
	if !ok || models.Phase(target) != models.PhaseEvaluation {
		return nil
	}
	_, err := e.Run(ctx, event.WorkshopID, nil)
	return err
}

func (e *Evaluator) aggregateSubmissionGrades(ctx context.Context, tx repository.Store, workshopID uint) (int, error) {
	notExample := false
	submissions, err := tx.Submissions().List(ctx, repository.SubmissionFilter{WorkshopID: workshopID, Example: &notExample})
	if err != nil {
		return 0, err
	}
	assessments, err := tx.Assessments().List(ctx, repository.AssessmentFilter{WorkshopID: workshopID})
	if err != nil {
		return 0, err
	}
	bySubmission := groupBySubmission(assessments)

	updated := 0
	for _, submission := range submissions {
		grade := weightedMean(bySubmission[submission.ID])
		if sameValue(submission.Grade, grade) {
			continue
		}
		if err := tx.Submissions().UpdateGrade(ctx, submission.ID, grade); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (e *Evaluator) updateGradingGrades(ctx context.Context, tx repository.Store, workshop models.Workshop, settings Settings, restrictReviewers []uint) (Report, error) {
	report := Report{
		WorkshopID: workshop.ID,
		Method:     settings.Method,
		Comparison: settings.Comparison,
		Changes:    []Change{},
		RanAt:      e.now().UTC(),
	}

	notExample := false
	submissions, err := tx.Submissions().List(ctx, repository.SubmissionFilter{WorkshopID: workshop.ID, Example: &notExample})
	if err != nil {
		return Report{}, err
	}
	assessments, err := tx.Assessments().List(ctx, repository.AssessmentFilter{WorkshopID: workshop.ID})
	if err != nil {
		return Report{}, err
	}
	bySubmission := groupBySubmission(assessments)

	restricted := make(map[uint]bool, len(restrictReviewers))
	for _, reviewer := range restrictReviewers {
		restricted[reviewer] = true
	}

	for _, submission := range submissions {
		counted := bySubmission[submission.ID]
		reference := referenceGrade(submission, counted, settings.Method)

		for _, assessment := range counted {
			if len(restricted) > 0 && !restricted[assessment.ReviewerID] {
				continue
			}
			current := GradingGrade(*assessment.Grade, reference, workshop.Grade, workshop.GradingGrade, settings.Comparison)
			if sameValue(assessment.GradingGrade, current) {
				report.Unchanged++
				continue
			}

			if err := tx.Assessments().UpdateGradingGrade(ctx, assessment.ID, current, e.now().UTC()); err != nil {
				return Report{}, err
			}

			change := Change{
				AssessmentID: assessment.ID,
				SubmissionID: submission.ID,
				ReviewerID:   assessment.ReviewerID,
				Previous:     assessment.GradingGrade,
				Current:      current,
				Final:        current,
			}
			if assessment.GradingGradeOver != nil {
				change.Final = assessment.GradingGradeOver
			}
			if assessment.GradingGrade == nil {
				report.Evaluated++
			} else {
				report.Reevaluated++
			}
			report.Changes = append(report.Changes, change)
		}
	}

	// Edges that stopped counting or lost their grade keep no computed value.
	for _, assessment := range assessments {
		if assessment.GradingGrade == nil || (assessment.Counted() && assessment.Completed()) {
			continue
		}
		if len(restricted) > 0 && !restricted[assessment.ReviewerID] {
			continue
		}
		if err := tx.Assessments().UpdateGradingGrade(ctx, assessment.ID, nil, e.now().UTC()); err != nil {
			return Report{}, err
		}
		report.Reevaluated++
		report.Changes = append(report.Changes, Change{
			AssessmentID: assessment.ID,
			SubmissionID: assessment.SubmissionID,
			ReviewerID:   assessment.ReviewerID,
			Previous:     assessment.GradingGrade,
			Final:        assessment.GradingGradeOver,
		})
	}

	observability.Evaluations().WithLabelValues(settings.Method).Inc()
	return report, nil
}

func (e *Evaluator) aggregateGradingGrades(ctx context.Context, tx repository.Store, workshopID uint, restrictReviewers []uint) (int, error) {
	assessments, err := tx.Assessments().List(ctx, repository.AssessmentFilter{WorkshopID: workshopID, ReviewerIDs: restrictReviewers})
	if err != nil {
		return 0, err
	}

	sums := make(map[uint]float64)
	counts := make(map[uint]int)
	reviewers := make([]uint, 0)
	for _, assessment := range assessments {
		if _, seen := counts[assessment.ReviewerID]; !seen {
			reviewers = append(reviewers, assessment.ReviewerID)
			counts[assessment.ReviewerID] = 0
		}
		if !assessment.Counted() {
			continue
		}
		effective := assessment.EffectiveGradingGrade()
		if effective == nil {
			continue
		}
		sums[assessment.ReviewerID] += *effective
		counts[assessment.ReviewerID]++
	}
	sort.Slice(reviewers, func(i, j int) bool { return reviewers[i] < reviewers[j] })

	gradedAt := e.now().UTC()
	for _, reviewer := range reviewers {
		aggregation := models.Aggregation{WorkshopID: workshopID, UserID: reviewer, TimeGraded: &gradedAt}
		if counts[reviewer] > 0 {
			mean := grading.Round5(sums[reviewer] / float64(counts[reviewer]))
			aggregation.GradingGrade = &mean
		}
		if err := tx.Aggregations().Upsert(ctx, &aggregation); err != nil {
			return 0, err
		}
	}
	return len(reviewers), nil
}

func (e *Evaluator) publish(ctx context.Context, report Report) {
	for _, change := range report.Changes {
		name := events.AssessmentEvaluated
		if change.Previous != nil {
			name = events.AssessmentReevaluated
		}
		event := events.Event{
			Name:       name,
			WorkshopID: report.WorkshopID,
			EntityType: events.EntityAssessment,
			EntityID:   change.AssessmentID,
			Data: map[string]interface{}{
				"reviewer_id":   change.ReviewerID,
				"submission_id": change.SubmissionID,
				"current_grade": floatOrNil(change.Current),
				"final_grade":   floatOrNil(change.Final),
			},
		}
		if err := e.sink.Emit(ctx, event); err != nil {
			e.logger.Warn().Err(err).Uint("assessment_id", change.AssessmentID).Msg("evaluation notification delivery failed")
		}
	}

	e.logger.Info().
		Uint("workshop_id", report.WorkshopID).
		Str("method", report.Method).
		Int("evaluated", report.Evaluated).
		Int("reevaluated", report.Reevaluated).
		Int("unchanged", report.Unchanged).
		Msg("grading grades updated")
}

// groupBySubmission keeps the completed assessments that count towards aggregation.
func groupBySubmission(assessments []models.Assessment) map[uint][]models.Assessment {
	grouped := make(map[uint][]models.Assessment)
	for _, assessment := range assessments {
		if !assessment.Counted() || !assessment.Completed() {
			continue
		}
		grouped[assessment.SubmissionID] = append(grouped[assessment.SubmissionID], assessment)
	}
	return grouped
}

func weightedMean(assessments []models.Assessment) *float64 {
	var sum, weights float64
	for _, assessment := range assessments {
		sum += *assessment.Grade * float64(assessment.Weight)
		weights += float64(assessment.Weight)
	}
	if weights == 0 {
		return nil
	}
	mean := grading.Round5(sum / weights)
	return &mean
}

func median(assessments []models.Assessment) *float64 {
	if len(assessments) == 0 {
		return nil
	}
	grades := make([]float64, 0, len(assessments))
	for _, assessment := range assessments {
		grades = append(grades, *assessment.Grade)
	}
	sort.Float64s(grades)
	middle := len(grades) / 2
	value := grades[middle]
	if len(grades)%2 == 0 {
		value = (grades[middle-1] + grades[middle]) / 2
	}
	value = grading.Round5(value)
	return &value
}

// referenceGrade is what every reviewer of the submission is compared with.
// A teacher override always wins. A single review is its own reference, so
// its reviewer receives the full grading grade.
func referenceGrade(submission models.Submission, counted []models.Assessment, method string) *float64 {
	if submission.GradeOver != nil {
		return submission.GradeOver
	}
	switch {
	case method == models.EvaluationTeacher:
		return nil
	case len(counted) == 0:
		return nil
	case len(counted) == 1:
		single := *counted[0].Grade
		return &single
	case method == models.EvaluationMedian:
		return median(counted)
	default:
		return weightedMean(counted)
	}
}

// GradingGrade converts the distance between a given grade and the reference
// into a grade for assessment in [0, maxGradingGrade]. A nil reference yields nil.
func GradingGrade(given float64, reference *float64, maxGrade, maxGradingGrade float64, comparison int) *float64 {
	if reference == nil {
		return nil
	}
	var percent float64
	if maxGrade <= 0 {
		if given == *reference {
			percent = 100
		}
	} else {
		distance := math.Abs(given-*reference) / maxGrade * 100
		percent = 100 - distance*float64(comparison)/float64(models.DefaultEvaluationComparison)
	}
	percent = grading.Clamp(percent, 0, 100)
	value := grading.Round5(percent * maxGradingGrade / 100)
	return &value
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return grading.Round5(*a) == grading.Round5(*b)
}

func floatOrNil(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
