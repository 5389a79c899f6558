package allocation

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

var (
	// ErrAllocationExists indicates the reviewer is already allocated to the submission.
	ErrAllocationExists = errors.New("reviewer already allocated to submission")
	// ErrAllocationNotFound indicates the assessment does not exist in the workshop.
	ErrAllocationNotFound = errors.New("allocation not found")
	// ErrSubmissionNotFound indicates the submission does not exist in the workshop.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrReviewerNotParticipant indicates the reviewer is not enrolled in the workshop.
	ErrReviewerNotParticipant = errors.New("reviewer is not a workshop participant")
	// ErrAssessmentGraded indicates the allocation already carries a grade and removal was not forced.
	ErrAssessmentGraded = errors.New("assessment already graded")
)

// AddManual allocates one reviewer to one submission.
func (a *Allocator) AddManual(ctx context.Context, workshopID, submissionID, reviewerID, actorID uint) (models.Assessment, error) {
	var assessment models.Assessment
	err := a.store.Transaction(ctx, func(tx repository.Store) error {
		workshop, err := tx.Workshops().GetByID(ctx, workshopID)
		if err != nil {
			return err
		}

		submission, err := tx.Submissions().GetByID(ctx, submissionID)
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && submission.WorkshopID != workshopID) {
			return ErrSubmissionNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Participants().Get(ctx, workshopID, reviewerID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReviewerNotParticipant
			}
			return err
		}

		self := submission.AuthorID == reviewerID
		if self && !workshop.UseSelfAssessment {
			return ErrSelfAssessmentDisabled
		}

		existing, err := tx.Assessments().List(ctx, repository.AssessmentFilter{
			SubmissionIDs:   []uint{submissionID},
			ReviewerIDs:     []uint{reviewerID},
			IncludeExamples: true,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrAllocationExists
		}

		assessment = models.Assessment{SubmissionID: submissionID, ReviewerID: reviewerID, Weight: 1, SelfAssessment: self}
		_, err = tx.Assessments().Upsert(ctx, &assessment)
		return err
	})
	if err != nil {
		return models.Assessment{}, err
	}

	a.record(ctx, Result{
		WorkshopID: workshopID,
		Policy:     PolicyManual,
		Status:     models.AllocationStatusExecuted,
		Added: []Edge{{
			AssessmentID: assessment.ID,
			SubmissionID: submissionID,
			ReviewerID:   reviewerID,
			Self:         assessment.SelfAssessment,
		}},
		ExecutedAt: a.now().UTC(),
	}, actorID, events.AllocationExecuted)
	return assessment, nil
}

// RemoveManual deletes one allocation. Allocations that already carry a grade
// are only removed when force is set.
func (a *Allocator) RemoveManual(ctx context.Context, workshopID, assessmentID uint, force bool, actorID uint) error {
	var removed Edge
	err := a.store.Transaction(ctx, func(tx repository.Store) error {
		assessment, err := tx.Assessments().GetByID(ctx, assessmentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAllocationNotFound
		}
		if err != nil {
			return err
		}

		submission, err := tx.Submissions().GetByID(ctx, assessment.SubmissionID)
		if err != nil {
			return err
		}
		if submission.WorkshopID != workshopID {
			return ErrAllocationNotFound
		}

		if assessment.Completed() && !force {
			return ErrAssessmentGraded
		}

		if _, err := tx.Assessments().Delete(ctx, repository.AssessmentFilter{IDs: []uint{assessmentID}, IncludeExamples: true}); err != nil {
			return err
		}
		removed = Edge{
			AssessmentID: assessment.ID,
			SubmissionID: assessment.SubmissionID,
			AuthorID:     submission.AuthorID,
			ReviewerID:   assessment.ReviewerID,
			Self:         assessment.SelfAssessment,
			Graded:       assessment.Completed(),
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.record(ctx, Result{
		WorkshopID: workshopID,
		Policy:     PolicyManual,
		Status:     models.AllocationStatusExecuted,
		Removed:    []Edge{removed},
		ExecutedAt: a.now().UTC(),
	}, actorID, events.AllocationExecuted)
	return nil
}
