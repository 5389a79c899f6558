package models

import "time"

// Submission is the work an author handed in to a workshop. Example submissions
// are provided by teachers for calibration and never take part in allocation or
// grade aggregation.
type Submission struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	WorkshopID    uint         `gorm:"not null;index" json:"workshop_id"`
	AuthorID      uint         `gorm:"not null;index" json:"author_id"`
	Example       bool         `gorm:"not null;default:false" json:"example"`
	Title         string       `gorm:"size:255;not null" json:"title"`
	Content       string       `gorm:"type:text" json:"content"`
	AttachmentURL string       `gorm:"size:512" json:"attachment_url"`
	Grade         *float64     `json:"grade"`
	GradeOver     *float64     `json:"grade_over"`
	GradeOverBy   *uint        `json:"grade_over_by"`
	Published     bool         `gorm:"not null;default:false" json:"published"`
	Late          bool         `gorm:"not null;default:false" json:"late"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Assessments   []Assessment `gorm:"constraint:OnDelete:CASCADE" json:"assessments,omitempty"`
}

// FinalGrade returns the teacher override when present, otherwise the aggregated peer grade.
func (s Submission) FinalGrade() *float64 {
	if s.GradeOver != nil {
		return s.GradeOver
	}
	return s.Grade
}

// Assessment is a directed allocation edge: one reviewer assessing one submission.
type Assessment struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	SubmissionID       uint              `gorm:"not null;uniqueIndex:idx_assessment_pair" json:"submission_id"`
	ReviewerID         uint              `gorm:"not null;uniqueIndex:idx_assessment_pair;index" json:"reviewer_id"`
	Weight             int               `gorm:"not null;default:1" json:"weight"`
	Grade              *float64          `json:"grade"`
	GradingGrade       *float64          `json:"grading_grade"`
	GradingGradeOver   *float64          `json:"grading_grade_over"`
	GradingGradeOverBy *uint             `json:"grading_grade_over_by"`
	SelfAssessment     bool              `gorm:"not null;default:false" json:"self_assessment"`
	FeedbackAuthor     string            `gorm:"type:text" json:"feedback_author"`
	EvaluatedAt        *time.Time        `json:"evaluated_at"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Grades             []AssessmentGrade `gorm:"constraint:OnDelete:CASCADE" json:"grades,omitempty"`
}

// Completed reports whether the reviewer has already given a grade.
func (a Assessment) Completed() bool {
	return a.Grade != nil
}

// Counted reports whether the assessment takes part in aggregation.
func (a Assessment) Counted() bool {
	return a.Weight > 0
}

// EffectiveGradingGrade returns the teacher override when present, otherwise the computed value.
func (a Assessment) EffectiveGradingGrade() *float64 {
	if a.GradingGradeOver != nil {
		return a.GradingGradeOver
	}
	return a.GradingGrade
}

// AssessmentGrade stores the answer given for one form dimension.
type AssessmentGrade struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	AssessmentID uint    `gorm:"not null;uniqueIndex:idx_assessment_dimension" json:"assessment_id"`
	DimensionID  uint    `gorm:"not null;uniqueIndex:idx_assessment_dimension" json:"dimension_id"`
	Grade        float64 `json:"grade"`
	PeerComment  string  `gorm:"type:text" json:"peer_comment"`
}

// Aggregation holds a reviewer's total grade for assessing.
type Aggregation struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	WorkshopID   uint       `gorm:"not null;uniqueIndex:idx_aggregation_user" json:"workshop_id"`
	UserID       uint       `gorm:"not null;uniqueIndex:idx_aggregation_user" json:"user_id"`
	GradingGrade *float64   `json:"grading_grade"`
	TimeGraded   *time.Time `json:"time_graded"`
}
