package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog captures auditable workshop events: phase changes, allocation
// runs, evaluations and teacher overrides.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	WorkshopID *uint             `gorm:"index" json:"workshop_id"`
	ActorID    uint              `gorm:"not null" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null" json:"action"`
	EntityType string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID   *uint             `json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// AllModels lists every persisted model for migrations.
func AllModels() []interface{} {
	return []interface{}{
		&Workshop{},
		&Participant{},
		&GroupMember{},
		&Submission{},
		&Assessment{},
		&AssessmentGrade{},
		&Aggregation{},
		&FormDimension{},
		&RubricLevel{},
		&NumErrorsMapping{},
		&ScheduledAllocation{},
		&ActivityLog{},
		&Notification{},
	}
}
