package models

import "time"

// Phase is the persisted lifecycle stage of a workshop. The numeric values are
// stored and compared by external callers and must not change.
type Phase int

const (
	PhaseSetup      Phase = 10
	PhaseSubmission Phase = 20
	PhaseAssessment Phase = 30
	PhaseEvaluation Phase = 40
	PhaseClosed     Phase = 50
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhaseSetup, PhaseSubmission, PhaseAssessment, PhaseEvaluation, PhaseClosed}

// Valid reports whether the phase is one of the known lifecycle stages.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSetup, PhaseSubmission, PhaseAssessment, PhaseEvaluation, PhaseClosed:
		return true
	default:
		return false
	}
}

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseSubmission:
		return "submission"
	case PhaseAssessment:
		return "assessment"
	case PhaseEvaluation:
		return "evaluation"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	StrategyComments     = "comments"
	StrategyAccumulative = "accumulative"
	StrategyNumErrors    = "numerrors"
	StrategyRubric       = "rubric"
)

const (
	EvaluationMean    = "mean"
	EvaluationMedian  = "median"
	EvaluationTeacher = "teacher"
)

const (
	GroupModeNone     = "none"
	GroupModeSeparate = "separate"
	GroupModeVisible  = "visible"
)

const (
	DefaultWorkshopGrade        = 80.0
	DefaultWorkshopGradingGrade = 20.0
	DefaultEvaluationComparison = 5
)

// Workshop is a single peer-assessment activity.
type Workshop struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	CourseID              uint       `gorm:"index;not null" json:"course_id"`
	Name                  string     `gorm:"size:255;not null" json:"name"`
	Phase                 Phase      `gorm:"not null;default:10;index" json:"phase"`
	Strategy              string     `gorm:"size:32;not null;default:accumulative" json:"strategy"`
	EvaluationMethod      string     `gorm:"size:32;not null;default:mean" json:"evaluation_method"`
	EvaluationComparison  int        `gorm:"not null;default:5" json:"evaluation_comparison"`
	Grade                 float64    `gorm:"not null;default:80" json:"grade"`
	GradingGrade          float64    `gorm:"not null;default:20" json:"grading_grade"`
	UseSelfAssessment     bool       `gorm:"not null;default:false" json:"use_self_assessment"`
	UseExamples           bool       `gorm:"not null;default:false" json:"use_examples"`
	LateSubmissions       bool       `gorm:"not null;default:false" json:"late_submissions"`
	PhaseSwitchAssessment bool       `gorm:"not null;default:false;index" json:"phase_switch_assessment"`
	GroupMode             string     `gorm:"size:16;not null;default:none" json:"group_mode"`
	SubmissionStart       *time.Time `json:"submission_start"`
	SubmissionEnd         *time.Time `json:"submission_end"`
	AssessmentStart       *time.Time `json:"assessment_start"`
	AssessmentEnd         *time.Time `json:"assessment_end"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SubmissionDeadlinePassed reports whether a submission end is set and lies before reference.
func (w Workshop) SubmissionDeadlinePassed(reference time.Time) bool {
	return w.SubmissionEnd != nil && !w.SubmissionEnd.IsZero() && w.SubmissionEnd.Before(reference)
}

// UsesGroups reports whether group membership restricts who may review whom.
func (w Workshop) UsesGroups() bool {
	return w.GroupMode == GroupModeSeparate || w.GroupMode == GroupModeVisible
}

// AcceptsSubmissions reports whether authors may still create or edit their work.
func (w Workshop) AcceptsSubmissions(reference time.Time) bool {
	if w.Phase != PhaseSubmission {
		return false
	}
	if w.SubmissionStart != nil && reference.Before(*w.SubmissionStart) {
		return false
	}
	if w.SubmissionDeadlinePassed(reference) && !w.LateSubmissions {
		return false
	}
	return true
}

// AcceptsAssessments reports whether reviewers may fill in their forms. The
// window bounds are inclusive.
func (w Workshop) AcceptsAssessments(reference time.Time) bool {
	if w.Phase != PhaseAssessment {
		return false
	}
	if w.AssessmentStart != nil && !w.AssessmentStart.IsZero() && reference.Before(*w.AssessmentStart) {
		return false
	}
	if w.AssessmentEnd != nil && !w.AssessmentEnd.IsZero() && w.AssessmentEnd.Before(reference) {
		return false
	}
	return true
}

// Participant is a user enrolled in the workshop with a role.
type Participant struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WorkshopID uint      `gorm:"not null;uniqueIndex:idx_participant_user" json:"workshop_id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_participant_user" json:"user_id"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	ParticipantRoleStudent = "student"
	ParticipantRoleTeacher = "teacher"
)

// GroupMember links a participant to a course group.
type GroupMember struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	WorkshopID uint `gorm:"not null;index" json:"workshop_id"`
	GroupID    uint `gorm:"not null" json:"group_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`
}
