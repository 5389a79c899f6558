package dto

import (
	"time"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// WorkshopCreateRequest is the payload used to create a workshop.
type WorkshopCreateRequest struct {
	CourseID              uint       `json:"course_id" validate:"required"`
	Name                  string     `json:"name" validate:"required,min=3,max=255"`
	Strategy              string     `json:"strategy" validate:"omitempty,oneof=comments accumulative numerrors rubric"`
	EvaluationMethod      string     `json:"evaluation_method" validate:"omitempty,oneof=mean median teacher"`
	EvaluationComparison  int        `json:"evaluation_comparison" validate:"omitempty,oneof=1 3 5 7 9"`
	Grade                 *float64   `json:"grade" validate:"omitempty,gte=0"`
	GradingGrade          *float64   `json:"grading_grade" validate:"omitempty,gte=0"`
	UseSelfAssessment     bool       `json:"use_self_assessment"`
	UseExamples           bool       `json:"use_examples"`
	LateSubmissions       bool       `json:"late_submissions"`
	PhaseSwitchAssessment bool       `json:"phase_switch_assessment"`
	GroupMode             string     `json:"group_mode" validate:"omitempty,oneof=none separate visible"`
	SubmissionStart       *time.Time `json:"submission_start"`
	SubmissionEnd         *time.Time `json:"submission_end"`
	AssessmentStart       *time.Time `json:"assessment_start"`
	AssessmentEnd         *time.Time `json:"assessment_end"`
}

// WorkshopUpdateRequest changes workshop settings. Nil fields are left untouched.
type WorkshopUpdateRequest struct {
	Name                  *string    `json:"name" validate:"omitempty,min=3,max=255"`
	Strategy              *string    `json:"strategy" validate:"omitempty,oneof=comments accumulative numerrors rubric"`
	EvaluationMethod      *string    `json:"evaluation_method" validate:"omitempty,oneof=mean median teacher"`
	EvaluationComparison  *int       `json:"evaluation_comparison" validate:"omitempty,oneof=1 3 5 7 9"`
	Grade                 *float64   `json:"grade" validate:"omitempty,gte=0"`
	GradingGrade          *float64   `json:"grading_grade" validate:"omitempty,gte=0"`
	UseSelfAssessment     *bool      `json:"use_self_assessment"`
	UseExamples           *bool      `json:"use_examples"`
	LateSubmissions       *bool      `json:"late_submissions"`
	PhaseSwitchAssessment *bool      `json:"phase_switch_assessment"`
	GroupMode             *string    `json:"group_mode" validate:"omitempty,oneof=none separate visible"`
	SubmissionStart       *time.Time `json:"submission_start"`
	SubmissionEnd         *time.Time `json:"submission_end"`
	AssessmentStart       *time.Time `json:"assessment_start"`
	AssessmentEnd         *time.Time `json:"assessment_end"`
}

// PhaseSwitchRequest names the target phase by number or name.
type PhaseSwitchRequest struct {
	Phase string `json:"phase" validate:"required"`
}

// RandomAllocationRequest carries the random allocator settings.
type RandomAllocationRequest struct {
	NumOfReviews            *int   `json:"num_of_reviews"`
	NumPer                  string `json:"num_per"`
	ExcludeSameGroup        bool   `json:"exclude_same_group"`
	RemoveCurrent           bool   `json:"remove_current"`
	AssessWithoutSubmission bool   `json:"assess_without_submission"`
	AddSelfAssessment       bool   `json:"add_self_assessment"`
}

// ManualAllocationRequest adds a single reviewer to a submission.
type ManualAllocationRequest struct {
	SubmissionID uint `json:"submission_id" validate:"required"`
	ReviewerID   uint `json:"reviewer_id" validate:"required"`
}

// ScheduledAllocationRequest configures the scheduled allocation.
type ScheduledAllocationRequest struct {
	Enabled  bool                    `json:"enabled"`
	Settings RandomAllocationRequest `json:"settings"`
}

// FormLevelRequest is one rubric level.
type FormLevelRequest struct {
	Grade      float64 `json:"grade" validate:"gte=0"`
	Definition string  `json:"definition" validate:"max=2000"`
}

// FormDimensionRequest is one criterion, assertion or comment field.
type FormDimensionRequest struct {
	Description string             `json:"description" validate:"required,max=4000"`
	MaxGrade    float64            `json:"max_grade" validate:"gte=0"`
	Weight      int                `json:"weight" validate:"omitempty,gte=1,lte=16"`
	Levels      []FormLevelRequest `json:"levels" validate:"dive"`
}

// FormMappingRequest maps a number of errors to a grade percentage.
type FormMappingRequest struct {
	Errors  int     `json:"errors" validate:"gte=1"`
	Percent float64 `json:"percent" validate:"gte=0,lte=100"`
}

// FormRequest replaces the assessment form of a workshop.
type FormRequest struct {
	Dimensions []FormDimensionRequest `json:"dimensions" validate:"required,min=1,dive"`
	Mappings   []FormMappingRequest   `json:"mappings" validate:"dive"`
}

// ParticipantRequest enrols one user.
type ParticipantRequest struct {
	UserID  uint   `json:"user_id" validate:"required"`
	Role    string `json:"role" validate:"required,oneof=student teacher"`
	GroupID *uint  `json:"group_id"`
}

// ParticipantsRequest enrols users in bulk.
type ParticipantsRequest struct {
	Participants []ParticipantRequest `json:"participants" validate:"required,min=1,dive"`
}

// ScheduledAllocationResponse describes the stored schedule and its last outcome.
type ScheduledAllocationResponse struct {
	Enabled       bool                   `json:"enabled"`
	Settings      map[string]interface{} `json:"settings"`
	TimeAllocated *time.Time             `json:"time_allocated"`
	ResultStatus  string                 `json:"result_status,omitempty"`
	ResultMessage string                 `json:"result_message,omitempty"`
}

// WorkshopResponse is the public representation of a workshop.
type WorkshopResponse struct {
	ID                    uint                         `json:"id"`
	CourseID              uint                         `json:"course_id"`
	Name                  string                       `json:"name"`
	Phase                 models.Phase                 `json:"phase"`
	PhaseName             string                       `json:"phase_name"`
	Strategy              string                       `json:"strategy"`
	EvaluationMethod      string                       `json:"evaluation_method"`
	EvaluationComparison  int                          `json:"evaluation_comparison"`
	Grade                 float64                      `json:"grade"`
	GradingGrade          float64                      `json:"grading_grade"`
	UseSelfAssessment     bool                         `json:"use_self_assessment"`
	UseExamples           bool                         `json:"use_examples"`
	LateSubmissions       bool                         `json:"late_submissions"`
	PhaseSwitchAssessment bool                         `json:"phase_switch_assessment"`
	GroupMode             string                       `json:"group_mode"`
	SubmissionStart       *time.Time                   `json:"submission_start"`
	SubmissionEnd         *time.Time                   `json:"submission_end"`
	AssessmentStart       *time.Time                   `json:"assessment_start"`
	AssessmentEnd         *time.Time                   `json:"assessment_end"`
	CanManage             bool                         `json:"can_manage"`
	Scheduled             *ScheduledAllocationResponse `json:"scheduled_allocation,omitempty"`
}

// NewWorkshopResponse converts a workshop model to DTO.
func NewWorkshopResponse(model models.Workshop) WorkshopResponse {
	return WorkshopResponse{
		ID:                    model.ID,
		CourseID:              model.CourseID,
		Name:                  model.Name,
		Phase:                 model.Phase,
		PhaseName:             model.Phase.String(),
		Strategy:              model.Strategy,
		EvaluationMethod:      model.EvaluationMethod,
		EvaluationComparison:  model.EvaluationComparison,
		Grade:                 model.Grade,
		GradingGrade:          model.GradingGrade,
		UseSelfAssessment:     model.UseSelfAssessment,
		UseExamples:           model.UseExamples,
		LateSubmissions:       model.LateSubmissions,
		PhaseSwitchAssessment: model.PhaseSwitchAssessment,
		GroupMode:             model.GroupMode,
		SubmissionStart:       model.SubmissionStart,
		SubmissionEnd:         model.SubmissionEnd,
		AssessmentStart:       model.AssessmentStart,
		AssessmentEnd:         model.AssessmentEnd,
	}
}

// NewScheduledAllocationResponse converts the stored schedule.
func NewScheduledAllocationResponse(model models.ScheduledAllocation) *ScheduledAllocationResponse {
	settings := map[string]interface{}{}
	for key, value := range model.Settings {
		settings[key] = value
	}
	return &ScheduledAllocationResponse{
		Enabled:       model.Enabled,
		Settings:      settings,
		TimeAllocated: model.TimeAllocated,
		ResultStatus:  model.ResultStatus,
		ResultMessage: model.ResultMessage,
	}
}

// PhaseTransitionResponse reports the outcome of a phase switch.
type PhaseTransitionResponse struct {
	WorkshopID uint         `json:"workshop_id"`
	Previous   models.Phase `json:"previous_phase"`
	Phase      models.Phase `json:"phase"`
	PhaseName  string       `json:"phase_name"`
	Changed    bool         `json:"changed"`
}
