package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AllocationStatusExecuted = "executed"
	AllocationStatusVoid     = "void"
	AllocationStatusFailed   = "failed"
)

// ScheduledAllocation stores the random allocation settings that run once the
// submission deadline has passed, together with the outcome of the last run.
type ScheduledAllocation struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	WorkshopID    uint              `gorm:"not null;uniqueIndex" json:"workshop_id"`
	Enabled       bool              `gorm:"not null;default:false;index" json:"enabled"`
	Settings      datatypes.JSONMap `gorm:"type:json" json:"settings"`
	SubmissionEnd *time.Time        `json:"submission_end"`
	TimeAllocated *time.Time        `json:"time_allocated"`
	ResultStatus  string            `gorm:"size:16" json:"result_status"`
	ResultMessage string            `gorm:"type:text" json:"result_message"`
	ResultLog     datatypes.JSON    `gorm:"type:json" json:"result_log"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AlreadyExecutedFor reports whether the allocation has run for the given submission deadline.
func (s ScheduledAllocation) AlreadyExecutedFor(submissionEnd *time.Time) bool {
	if s.TimeAllocated == nil || s.SubmissionEnd == nil || submissionEnd == nil {
		return false
	}
	return s.SubmissionEnd.Equal(*submissionEnd)
}
