package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/observability"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

// Triggers that ask the scheduled policy to check a workshop.
const (
	TriggerPhaseSwitched = "phase_switched"
	TriggerView          = "view"
	TriggerCron          = "cron"
	TriggerManual        = "manual"
)

// Reasons a scheduled check did not allocate.
const (
	SkipNotConfigured   = "not_configured"
	SkipDisabled        = "disabled"
	SkipWrongPhase      = "wrong_phase"
	SkipDeadlinePending = "deadline_not_passed"
	SkipAlreadyExecuted = "already_executed"
)

// ScheduledOutcome reports what a scheduled check did.
type ScheduledOutcome struct {
	WorkshopID uint    `json:"workshop_id"`
	Trigger    string  `json:"trigger"`
	Executed   bool    `json:"executed"`
	SkipReason string  `json:"skip_reason,omitempty"`
	Result     *Result `json:"result,omitempty"`
}

// SweepReport summarises a pass over every enabled scheduled allocation.
type SweepReport struct {
	Checked  int `json:"checked"`
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ConfigureScheduled stores the settings the scheduled policy will run with.
// Settings are validated only when the schedule is enabled.
func (a *Allocator) ConfigureScheduled(ctx context.Context, workshopID uint, enabled bool, settings RandomSettings) (models.ScheduledAllocation, error) {
	if enabled {
		if err := settings.Validate(a.validator); err != nil {
			return models.ScheduledAllocation{}, err
		}
	}

	var record models.ScheduledAllocation
	err := a.store.Transaction(ctx, func(tx repository.Store) error {
		workshop, err := tx.Workshops().GetByID(ctx, workshopID)
		if err != nil {
			return err
		}
		if enabled && settings.AddSelfAssessment && !workshop.UseSelfAssessment {
			return ErrSelfAssessmentDisabled
		}

		record, err = tx.ScheduledAllocations().GetForUpdate(ctx, workshopID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		record.WorkshopID = workshopID
		record.Enabled = enabled
		record.Settings = settings.ToJSONMap()
		return tx.ScheduledAllocations().Save(ctx, &record)
	})
	if err != nil {
		return models.ScheduledAllocation{}, err
	}
	return record, nil
}

// CheckScheduled runs the stored random settings once per submission deadline.
// It acts only when the schedule is enabled, the workshop is in the submission
// or assessment phase and the deadline has passed. A run that already happened
// for the current deadline is skipped; moving the deadline re-arms it.
func (a *Allocator) CheckScheduled(ctx context.Context, workshopID uint, trigger string) (ScheduledOutcome, error) {
	ctx, span := a.tracer.Start(ctx, "allocation.scheduled", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.String("allocation.trigger", trigger),
	))
	defer span.End()

	outcome := ScheduledOutcome{WorkshopID: workshopID, Trigger: trigger}
	err := a.store.Transaction(ctx, func(tx repository.Store) error {
		record, err := tx.ScheduledAllocations().GetForUpdate(ctx, workshopID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome.SkipReason = SkipNotConfigured
			return nil
		}
		if err != nil {
			return err
		}
		if !record.Enabled {
			outcome.SkipReason = SkipDisabled
			return nil
		}

		workshop, err := tx.Workshops().GetForUpdate(ctx, workshopID)
		if err != nil {
			return err
		}
		now := a.now()
		switch {
		case workshop.Phase != models.PhaseSubmission && workshop.Phase != models.PhaseAssessment:
			outcome.SkipReason = SkipWrongPhase
			return nil
		case !workshop.SubmissionDeadlinePassed(now):
			outcome.SkipReason = SkipDeadlinePending
			return nil
		case record.AlreadyExecutedFor(workshop.SubmissionEnd):
			outcome.SkipReason = SkipAlreadyExecuted
			return nil
		}

		result, runErr := a.runScheduled(ctx, tx, workshop, record)
		if runErr != nil && !IsConfigurationError(runErr) {
			return runErr
		}

		allocatedAt := now.UTC()
		record.TimeAllocated = &allocatedAt
		record.SubmissionEnd = workshop.SubmissionEnd
		record.ResultStatus = result.Status
		record.ResultMessage = result.Summary()
		if runErr != nil {
			record.ResultMessage = runErr.Error()
		}
		logPayload, err := json.Marshal(result.Issues)
		if err != nil {
			return err
		}
		record.ResultLog = logPayload
		if err := tx.ScheduledAllocations().Save(ctx, &record); err != nil {
			return err
		}

		outcome.Executed = true
		outcome.Result = &result
		return nil
	})
	if err != nil {
		span.RecordError(err)
		observability.AllocationRuns().WithLabelValues(PolicyScheduled, models.AllocationStatusFailed).Inc()
		return ScheduledOutcome{}, err
	}

	if outcome.Executed {
		a.record(ctx, *outcome.Result, 0, events.AllocationScheduledExecuted)
	}
	return outcome, nil
}

// runScheduled executes the stored settings. Configuration problems become a
// failed result so the record still reports them to the teachers.
func (a *Allocator) runScheduled(ctx context.Context, tx repository.Store, workshop models.Workshop, record models.ScheduledAllocation) (Result, error) {
	failed := func(err error) (Result, error) {
		return Result{
			WorkshopID: workshop.ID,
			Policy:     PolicyScheduled,
			Status:     models.AllocationStatusFailed,
			Added:      []Edge{},
			Removed:    []Edge{},
			Issues:     []Issue{{Level: LevelError, Message: err.Error()}},
			ExecutedAt: a.now().UTC(),
		}, err
	}

	settings, err := SettingsFromJSONMap(record.Settings)
	if err != nil {
		return failed(err)
	}
	if err := settings.Validate(a.validator); err != nil {
		return failed(err)
	}

	var result Result
	err = tx.Transaction(ctx, func(inner repository.Store) error {
		var allocErr error
		result, allocErr = a.allocate(ctx, inner, workshop, settings, PolicyScheduled)
		return allocErr
	})
	if err != nil {
		if IsConfigurationError(err) {
			return failed(err)
		}
		return Result{}, fmt.Errorf("scheduled allocation: %w", err)
	}
	return result, nil
}

// SweepScheduled checks every enabled schedule. Failures are logged and the
// sweep moves on to the next workshop.
func (a *Allocator) SweepScheduled(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	defer func() {
		observability.SweepDuration().WithLabelValues("scheduled_allocation").Observe(time.Since(started).Seconds())
	}()

	workshopIDs, err := a.store.ScheduledAllocations().ListEnabledWorkshopIDs(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, workshopID := range workshopIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		outcome, err := a.CheckScheduled(ctx, workshopID, TriggerCron)
		switch {
		case err != nil:
			report.Failed++
			a.logger.Error().Err(err).Uint("workshop_id", workshopID).Msg("scheduled allocation failed")
		case outcome.Executed:
			report.Executed++
		default:
			report.Skipped++
		}
	}

	a.logger.Info().
		Int("checked", report.Checked).
		Int("executed", report.Executed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("scheduled allocation sweep finished")
	return report, nil
}

// HandlePhaseSwitched reacts to a workshop entering the assessment phase.
func (a *Allocator) HandlePhaseSwitched(ctx context.Context, event events.Event) error {
	target, ok := event.Uint("target_phase")
	if !ok || models.Phase(target) != models.PhaseAssessment {
		return nil
	}
	_, err := a.CheckScheduled(ctx, event.WorkshopID, TriggerPhaseSwitched)
	return err
}
