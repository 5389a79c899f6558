// Package events carries workshop domain events from the code that produced
// them to in-process subscribers and external brokers.
package events

import (
	"context"
	"time"
)

// Event names observed by subscribers and external consumers.
const (
	PhaseSwitched               = "phase_switched"
	PhaseAutomaticallySwitched  = "phase_automatically_switched"
	AllocationExecuted          = "allocation_executed"
	AllocationScheduledExecuted = "allocation_scheduled_executed"
	AssessmentEvaluated         = "assessment_evaluated"
	AssessmentReevaluated       = "assessment_reevaluated"
	AssessmentSubmitted         = "assessment_submitted"
	SubmissionCreated           = "submission_created"
	SubmissionGradeOverridden   = "submission_grade_overridden"
	AssessmentGradeOverridden   = "assessment_grade_overridden"
	AssessmentWeightChanged     = "assessment_weight_changed"
	SubmissionDeleted           = "submission_deleted"
	GradesAggregated            = "grades_aggregated"
)

// Entity types referenced by events.
const (
	EntityWorkshop            = "workshop"
	EntitySubmission          = "submission"
	EntityAssessment          = "assessment"
	EntityScheduledAllocation = "scheduled_allocation"
)

// Event is a fact about a workshop. ActorID zero means the system acted.
type Event struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	WorkshopID uint                   `json:"workshop_id"`
	ActorID    uint                   `json:"actor_id"`
	ActorRole  string                 `json:"actor_role,omitempty"`
	EntityType string                 `json:"entity_type"`
	EntityID   uint                   `json:"entity_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Uint reads a numeric payload value regardless of whether it arrived as an
// in-process integer or a decoded JSON number.
func (e Event) Uint(key string) (uint, bool) {
	switch v := e.Data[key].(type) {
	case uint:
		return v, true
	case int:
		return uint(v), v >= 0
	case int64:
		return uint(v), v >= 0
	case float64:
		return uint(v), v >= 0
	default:
		return 0, false
	}
}

// Sink receives emitted events. Emit errors are reported to the caller but
// never undo the state change the event describes.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Handler reacts to one event.
type Handler func(ctx context.Context, event Event) error

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
