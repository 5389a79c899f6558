package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// AssessmentFilter narrows assessment queries. Example submissions are skipped
// unless IncludeExamples is set.
type AssessmentFilter struct {
	WorkshopID      uint
	SubmissionIDs   []uint
	ReviewerIDs     []uint
	IDs             []uint
	IncludeExamples bool
}

// AssessmentRepository persists allocation edges and their per-dimension grades.
type AssessmentRepository interface {
	List(ctx context.Context, filter AssessmentFilter) ([]models.Assessment, error)
	GetByID(ctx context.Context, id uint) (models.Assessment, error)
	Upsert(ctx context.Context, assessment *models.Assessment) (bool, error)
	Update(ctx context.Context, assessment *models.Assessment) error
	UpdateGradingGrade(ctx context.Context, id uint, gradingGrade *float64, evaluatedAt time.Time) error
	Delete(ctx context.Context, filter AssessmentFilter) (int64, error)
	SaveGrades(ctx context.Context, assessmentID uint, grades []models.AssessmentGrade) error
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository instantiates the repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) filtered(ctx context.Context, filter AssessmentFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Assessment{})

	if filter.WorkshopID != 0 || !filter.IncludeExamples {
		submissions := r.db.WithContext(ctx).Model(&models.Submission{}).Select("id")
		if filter.WorkshopID != 0 {
			submissions = submissions.Where("workshop_id = ?", filter.WorkshopID)
		}
		if !filter.IncludeExamples {
			submissions = submissions.Where("example = ?", false)
		}
		query = query.Where("submission_id IN (?)", submissions)
	}

	if len(filter.SubmissionIDs) > 0 {
		query = query.Where("submission_id IN ?", filter.SubmissionIDs)
	}

	if len(filter.ReviewerIDs) > 0 {
		query = query.Where("reviewer_id IN ?", filter.ReviewerIDs)
	}

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}

	return query
}

func (r *assessmentRepository) List(ctx context.Context, filter AssessmentFilter) ([]models.Assessment, error) {
	var assessments []models.Assessment
	if err := r.filtered(ctx, filter).Order("id ASC").Find(&assessments).Error; err != nil {
		return nil, err
	}
	return assessments, nil
}

func (r *assessmentRepository) GetByID(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).Preload("Grades").First(&assessment, id).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

// Upsert creates the edge or, when the (submission, reviewer) pair already
// exists, updates its weight and self-assessment flag in place. The boolean
// reports whether a new row was created.
func (r *assessmentRepository) Upsert(ctx context.Context, assessment *models.Assessment) (bool, error) {
	var existing models.Assessment
	lookup := r.db.WithContext(ctx).
		Where("submission_id = ? AND reviewer_id = ?", assessment.SubmissionID, assessment.ReviewerID).
		Limit(1).
		Find(&existing)
	if lookup.Error != nil {
		return false, lookup.Error
	}
	if lookup.RowsAffected == 0 {
		if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(assessment).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	if err := r.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"weight":          assessment.Weight,
		"self_assessment": assessment.SelfAssessment,
	}).Error; err != nil {
		return false, err
	}
	existing.Weight = assessment.Weight
	existing.SelfAssessment = assessment.SelfAssessment
	*assessment = existing
	return false, nil
}

func (r *assessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(assessment).Error
}

// UpdateGradingGrade writes only the computed grading grade; the teacher override column is left alone.
func (r *assessmentRepository) UpdateGradingGrade(ctx context.Context, id uint, gradingGrade *float64, evaluatedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Assessment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"grading_grade": gradingGrade,
			"evaluated_at":  evaluatedAt,
		}).Error
}

func (r *assessmentRepository) Delete(ctx context.Context, filter AssessmentFilter) (int64, error) {
	var ids []uint
	if err := r.filtered(ctx, filter).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.db.WithContext(ctx).Where("assessment_id IN ?", ids).Delete(&models.AssessmentGrade{}).Error; err != nil {
		return 0, err
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Assessment{})
	return result.RowsAffected, result.Error
}

func (r *assessmentRepository) SaveGrades(ctx context.Context, assessmentID uint, grades []models.AssessmentGrade) error {
	if len(grades) == 0 {
		return nil
	}
	for i := range grades {
		grades[i].AssessmentID = assessmentID
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "assessment_id"}, {Name: "dimension_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"grade", "peer_comment"}),
	}).Create(&grades).Error
}
