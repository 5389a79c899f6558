package dto

import (
	"time"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// SubmissionCreateRequest is the form payload used to hand in work.
type SubmissionCreateRequest struct {
	Title   string `json:"title" form:"title" validate:"required,min=1,max=255"`
	Content string `json:"content" form:"content" validate:"max=65535"`
	Example bool   `json:"example" form:"example"`
}

// GradeOverrideRequest sets or clears (null) a teacher override.
type GradeOverrideRequest struct {
	Grade *float64 `json:"grade" validate:"omitempty,gte=0"`
}

// AssessmentWeightRequest sets how much a review counts. Zero keeps the
// review but leaves it out of every aggregate.
type AssessmentWeightRequest struct {
	Weight *int `json:"weight" validate:"required,gte=0,lte=16"`
}

// AssessmentAnswerRequest is the reviewer's answer for one dimension.
type AssessmentAnswerRequest struct {
	DimensionID uint    `json:"dimension_id" validate:"required"`
	Grade       float64 `json:"grade" validate:"gte=0"`
	LevelID     uint    `json:"level_id"`
	Comment     string  `json:"comment" validate:"max=4000"`
}

// AssessmentSubmitRequest is the filled-in assessment form.
type AssessmentSubmitRequest struct {
	Answers        []AssessmentAnswerRequest `json:"answers" validate:"required,min=1,dive"`
	FeedbackAuthor string                    `json:"feedback_author" validate:"max=65535"`
}

// SubmissionResponse represents a submission.
type SubmissionResponse struct {
	ID            uint      `json:"id"`
	WorkshopID    uint      `json:"workshop_id"`
	AuthorID      uint      `json:"author_id"`
	Example       bool      `json:"example"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	Grade         *float64  `json:"grade"`
	GradeOver     *float64  `json:"grade_over"`
	FinalGrade    *float64  `json:"final_grade"`
	Late          bool      `json:"late"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewSubmissionResponse converts a submission model to DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:            model.ID,
		WorkshopID:    model.WorkshopID,
		AuthorID:      model.AuthorID,
		Example:       model.Example,
		Title:         model.Title,
		Content:       model.Content,
		AttachmentURL: model.AttachmentURL,
		Grade:         model.Grade,
		GradeOver:     model.GradeOver,
		FinalGrade:    model.FinalGrade(),
		Late:          model.Late,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// AssessmentGradeResponse is the stored value for one dimension.
type AssessmentGradeResponse struct {
	DimensionID uint    `json:"dimension_id"`
	Grade       float64 `json:"grade"`
	PeerComment string  `json:"peer_comment,omitempty"`
}

// AssessmentResponse represents an allocation edge and its grades.
type AssessmentResponse struct {
	ID                    uint                      `json:"id"`
	SubmissionID          uint                      `json:"submission_id"`
	ReviewerID            uint                      `json:"reviewer_id"`
	Weight                int                       `json:"weight"`
	Grade                 *float64                  `json:"grade"`
	GradingGrade          *float64                  `json:"grading_grade"`
	GradingGradeOver      *float64                  `json:"grading_grade_over"`
	EffectiveGradingGrade *float64                  `json:"effective_grading_grade"`
	SelfAssessment        bool                      `json:"self_assessment"`
	FeedbackAuthor        string                    `json:"feedback_author,omitempty"`
	Grades                []AssessmentGradeResponse `json:"grades,omitempty"`
	UpdatedAt             time.Time                 `json:"updated_at"`
}

// NewAssessmentResponse converts an assessment model to DTO.
func NewAssessmentResponse(model models.Assessment) AssessmentResponse {
	grades := make([]AssessmentGradeResponse, 0, len(model.Grades))
	for _, grade := range model.Grades {
		grades = append(grades, AssessmentGradeResponse{
			DimensionID: grade.DimensionID,
			Grade:       grade.Grade,
			PeerComment: grade.PeerComment,
		})
	}
	return AssessmentResponse{
		ID:                    model.ID,
		SubmissionID:          model.SubmissionID,
		ReviewerID:            model.ReviewerID,
		Weight:                model.Weight,
		Grade:                 model.Grade,
		GradingGrade:          model.GradingGrade,
		GradingGradeOver:      model.GradingGradeOver,
		EffectiveGradingGrade: model.EffectiveGradingGrade(),
		SelfAssessment:        model.SelfAssessment,
		FeedbackAuthor:        model.FeedbackAuthor,
		Grades:                grades,
		UpdatedAt:             model.UpdatedAt,
	}
}
