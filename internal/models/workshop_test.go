package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkshopAcceptsAssessmentsWithinWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	workshop := Workshop{Phase: PhaseAssessment, AssessmentStart: &start, AssessmentEnd: &end}

	require.False(t, workshop.AcceptsAssessments(start.Add(-time.Second)))
	require.True(t, workshop.AcceptsAssessments(start))
	require.True(t, workshop.AcceptsAssessments(end))
	require.False(t, workshop.AcceptsAssessments(end.Add(time.Second)))

	workshop.Phase = PhaseEvaluation
	require.False(t, workshop.AcceptsAssessments(start.Add(time.Hour)))
}

func TestWorkshopAcceptsAssessmentsWithoutBounds(t *testing.T) {
	zero := time.Time{}
	workshop := Workshop{Phase: PhaseAssessment, AssessmentEnd: &zero}
	require.True(t, workshop.AcceptsAssessments(time.Now()))

	workshop.Phase = PhaseSubmission
	require.False(t, workshop.AcceptsAssessments(time.Now()))
}
