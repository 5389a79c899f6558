// Package phase owns the workshop lifecycle: explicit teacher switches and the
// automatic submission to assessment switch once the deadline has passed.
package phase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/observability"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

var (
	// ErrInvalidPhase indicates the requested target is not a lifecycle phase.
	ErrInvalidPhase = errors.New("invalid workshop phase")
	// ErrPhaseConflict indicates the phase changed while the switch was in flight.
	ErrPhaseConflict = errors.New("workshop phase changed concurrently")
)

// Triggers recorded on transitions.
const (
	TriggerManual    = "manual"
	TriggerAutomatic = "automatic"
)

// Transition describes the outcome of a switch attempt.
type Transition struct {
	WorkshopID uint         `json:"workshop_id"`
	Previous   models.Phase `json:"previous_phase"`
	Target     models.Phase `json:"target_phase"`
	Changed    bool         `json:"changed"`
	Trigger    string       `json:"trigger"`
}

// SweepReport summarises one pass over the auto-switch candidates.
type SweepReport struct {
	Checked  int `json:"checked"`
	Switched int `json:"switched"`
	Failed   int `json:"failed"`
}

// Machine performs phase transitions. Each transition runs in its own
// transaction; notifications are emitted only after commit.
type Machine struct {
	store  repository.Store
	sink   events.Sink
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewMachine constructs the phase state machine.
func NewMachine(store repository.Store, sink events.Sink, logger zerolog.Logger) *Machine {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Machine{
		store:  store,
		sink:   sink,
		logger: logger.With().Str("component", "phase_machine").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-workshop-api/internal/phase"),
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Switch moves the workshop to target. Any phase may be reached from any
// other; switching to the current phase changes nothing and emits nothing.
func (m *Machine) Switch(ctx context.Context, workshopID uint, target models.Phase, actorID uint) (Transition, error) {
	if !target.Valid() {
		return Transition{}, fmt.Errorf("%w: %d", ErrInvalidPhase, target)
	}

	ctx, span := m.tracer.Start(ctx, "phase.switch", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
		attribute.Int("phase.target", int(target)),
	))
	defer span.End()

	transition := Transition{WorkshopID: workshopID, Target: target, Trigger: TriggerManual}
	err := m.store.Transaction(ctx, func(tx repository.Store) error {
		workshop, err := tx.Workshops().GetForUpdate(ctx, workshopID)
		if err != nil {
			return err
		}
		transition.Previous = workshop.Phase
		if workshop.Phase == target {
			return nil
		}

		swapped, err := tx.Workshops().CompareAndSwapPhase(ctx, workshopID, workshop.Phase, target)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrPhaseConflict
		}
		transition.Changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Transition{}, err
	}

	if !transition.Changed {
		return transition, nil
	}

	observability.PhaseSwitches().WithLabelValues(TriggerManual, target.String()).Inc()
	m.logger.Info().
		Uint("workshop_id", workshopID).
		Str("previous", transition.Previous.String()).
		Str("target", target.String()).
		Msg("workshop phase switched")

	m.emit(ctx, phaseSwitchedEvent(transition, actorID))
	return transition, nil
}

// CheckAutoSwitch performs the automatic submission to assessment transition
// when the workshop is in the submission phase, the switch flag is set and the
// submission deadline has passed. The flag is cleared in the same write, so
// repeated calls switch at most once.
func (m *Machine) CheckAutoSwitch(ctx context.Context, workshopID uint) (Transition, error) {
	ctx, span := m.tracer.Start(ctx, "phase.check_auto_switch", trace.WithAttributes(
		attribute.Int64("workshop.id", int64(workshopID)),
	))
	defer span.End()

	transition := Transition{
		WorkshopID: workshopID,
		Previous:   models.PhaseSubmission,
		Target:     models.PhaseAssessment,
		Trigger:    TriggerAutomatic,
	}

	err := m.store.Transaction(ctx, func(tx repository.Store) error {
		switched, err := tx.Workshops().ConsumeAutoSwitch(ctx, workshopID, m.now())
		if err != nil {
			return err
		}
		transition.Changed = switched
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Transition{}, err
	}

	if !transition.Changed {
		return transition, nil
	}

	observability.PhaseSwitches().WithLabelValues(TriggerAutomatic, transition.Target.String()).Inc()
	m.logger.Info().Uint("workshop_id", workshopID).Msg("workshop phase automatically switched to assessment")

	m.emit(ctx, events.Event{
		Name:       events.PhaseAutomaticallySwitched,
		WorkshopID: workshopID,
		EntityType: events.EntityWorkshop,
		EntityID:   workshopID,
		Data: map[string]interface{}{
			"previous_phase": int(transition.Previous),
			"target_phase":   int(transition.Target),
		},
	})
	m.emit(ctx, phaseSwitchedEvent(transition, 0))
	return transition, nil
}

// Sweep checks every auto-switch candidate. A failing workshop is logged and
// skipped so the others are still processed.
func (m *Machine) Sweep(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	defer func() {
		observability.SweepDuration().WithLabelValues("phase_auto_switch").Observe(time.Since(started).Seconds())
	}()

	candidates, err := m.store.Workshops().ListAutoSwitchCandidates(ctx, m.now())
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, workshopID := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		transition, err := m.CheckAutoSwitch(ctx, workshopID)
		if err != nil {
			report.Failed++
			m.logger.Error().Err(err).Uint("workshop_id", workshopID).Msg("automatic phase switch failed")
			continue
		}
		if transition.Changed {
			report.Switched++
		}
	}

	m.logger.Info().
		Int("checked", report.Checked).
		Int("switched", report.Switched).
		Int("failed", report.Failed).
		Msg("phase auto-switch sweep finished")
	return report, nil
}

func (m *Machine) emit(ctx context.Context, event events.Event) {
	if err := m.sink.Emit(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("event", event.Name).Uint("workshop_id", event.WorkshopID).Msg("phase notification delivery failed")
	}
}

func phaseSwitchedEvent(transition Transition, actorID uint) events.Event {
	return events.Event{
		Name:       events.PhaseSwitched,
		WorkshopID: transition.WorkshopID,
		ActorID:    actorID,
		EntityType: events.EntityWorkshop,
		EntityID:   transition.WorkshopID,
		Data: map[string]interface{}{
			"previous_phase": int(transition.Previous),
			"target_phase":   int(transition.Target),
			"trigger":        transition.Trigger,
		},
	}
}

// ParsePhase accepts either the numeric value or the lowercase name.
func ParsePhase(raw string) (models.Phase, error) {
	if value, err := strconv.Atoi(raw); err == nil {
		phase := models.Phase(value)
		if phase.Valid() {
			return phase, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrInvalidPhase, raw)
	}
	for _, phase := range models.Phases {
		if phase.String() == raw {
			return phase, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPhase, raw)
}
