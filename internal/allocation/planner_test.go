package allocation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func tenStudents() Input {
	input := Input{}
	for i := uint(1); i <= 10; i++ {
		input.Submissions = append(input.Submissions, SubmissionRef{ID: 100 + i, AuthorID: i})
		input.Reviewers = append(input.Reviewers, i)
	}
	return input
}

func receivedCounts(plan Plan) map[uint]int {
	counts := make(map[uint]int)
	for _, edge := range append(append([]Edge{}, plan.Add...), plan.Keep...) {
		if edge.Self {
			continue
		}
		counts[edge.SubmissionID]++
	}
	return counts
}

func TestPlanRandomTenStudentsOneReviewEach(t *testing.T) {
	input := tenStudents()
	plan := PlanRandom(input, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission}, rand.New(rand.NewSource(7)))

	require.Len(t, plan.Add, 10)
	require.Empty(t, plan.Issues)
	for _, edge := range plan.Add {
		require.NotEqual(t, edge.AuthorID, edge.ReviewerID, "no self review")
		require.False(t, edge.Self)
	}
	for _, count := range receivedCounts(plan) {
		require.Equal(t, 1, count)
	}
}

func TestPlanRandomIsDeterministicForSeed(t *testing.T) {
	settings := RandomSettings{NumOfReviews: 3, NumPer: NumPerSubmission}
	first := PlanRandom(tenStudents(), settings, rand.New(rand.NewSource(42)))
	second := PlanRandom(tenStudents(), settings, rand.New(rand.NewSource(42)))
	require.Equal(t, first, second)
}

func TestPlanRandomBalancesReviewerWorkload(t *testing.T) {
	settings := RandomSettings{NumOfReviews: 3, NumPer: NumPerSubmission}
	for seed := int64(1); seed <= 20; seed++ {
		plan := PlanRandom(tenStudents(), settings, rand.New(rand.NewSource(seed)))
		require.Len(t, plan.Add, 30)

		given := make(map[uint]int)
		for _, edge := range plan.Add {
			given[edge.ReviewerID]++
		}
		lowest, highest := 1<<30, 0
		for _, reviewer := range tenStudents().Reviewers {
			if given[reviewer] < lowest {
				lowest = given[reviewer]
			}
			if given[reviewer] > highest {
				highest = given[reviewer]
			}
		}
		require.LessOrEqual(t, highest-lowest, 2, "seed %d", seed)
	}
}

func TestPlanRandomRemoveCurrentRebalances(t *testing.T) {
	input := tenStudents()
	// a lopsided previous run: every submission reviewed by user 1 or 2
	for i, submission := range input.Submissions {
		reviewer := uint(1)
		if submission.AuthorID == 1 || i%2 == 0 {
			reviewer = 2
		}
		if submission.AuthorID == reviewer {
			reviewer = 3
		}
		input.Existing = append(input.Existing, Edge{
			AssessmentID: uint(1000 + i),
			SubmissionID: submission.ID,
			AuthorID:     submission.AuthorID,
			ReviewerID:   reviewer,
		})
	}

	settings := RandomSettings{NumOfReviews: 2, NumPer: NumPerSubmission, RemoveCurrent: true}
	plan := PlanRandom(input, settings, rand.New(rand.NewSource(3)))

	counts := receivedCounts(plan)
	lowest, highest := 1<<30, 0
	for _, submission := range input.Submissions {
		if counts[submission.ID] < lowest {
			lowest = counts[submission.ID]
		}
		if counts[submission.ID] > highest {
			highest = counts[submission.ID]
		}
	}
	require.LessOrEqual(t, highest-lowest, 1)
	require.Equal(t, 2, highest)
	require.Equal(t, len(input.Existing), len(plan.Remove)+len(plan.Keep))

	for _, kept := range plan.Keep {
		for _, added := range plan.Add {
			require.False(t, kept.SubmissionID == added.SubmissionID && kept.ReviewerID == added.ReviewerID, "re-selected edge must be kept, not re-added")
		}
	}
}

func TestPlanRandomKeepsExistingWithoutRemoveCurrent(t *testing.T) {
	input := tenStudents()
	input.Existing = []Edge{{AssessmentID: 1, SubmissionID: 101, AuthorID: 1, ReviewerID: 2}}

	plan := PlanRandom(input, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission}, rand.New(rand.NewSource(5)))
	require.Len(t, plan.Keep, 1)
	require.Empty(t, plan.Remove)
	require.Len(t, plan.Add, 9)
	for _, edge := range plan.Add {
		require.NotEqual(t, uint(101), edge.SubmissionID)
	}
}

func TestPlanRandomExcludesSameGroup(t *testing.T) {
	input := tenStudents()
	input.Groups = map[uint][]uint{}
	for i := uint(1); i <= 10; i++ {
		group := uint(1)
		if i > 5 {
			group = 2
		}
		input.Groups[i] = []uint{group}
	}

	settings := RandomSettings{NumOfReviews: 2, NumPer: NumPerSubmission, ExcludeSameGroup: true}
	plan := PlanRandom(input, settings, rand.New(rand.NewSource(11)))

	require.Len(t, plan.Add, 20)
	require.Empty(t, plan.Issues)
	for _, edge := range plan.Add {
		require.NotEqual(t, input.Groups[edge.AuthorID][0], input.Groups[edge.ReviewerID][0])
	}
}

func TestPlanRandomWarnsWhenInfeasible(t *testing.T) {
	input := Input{
		Submissions: []SubmissionRef{{ID: 1, AuthorID: 10}, {ID: 2, AuthorID: 20}},
		Reviewers:   []uint{10, 20},
		Groups:      map[uint][]uint{10: {1}, 20: {1}},
	}

	plan := PlanRandom(input, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission, ExcludeSameGroup: true}, rand.New(rand.NewSource(1)))
	require.Empty(t, plan.Add)
	require.Len(t, plan.Issues, 2)
	for _, issue := range plan.Issues {
		require.Equal(t, LevelWarning, issue.Level)
	}
}

func TestPlanRandomGrouplessAuthorWarns(t *testing.T) {
	input := Input{
		Submissions: []SubmissionRef{{ID: 1, AuthorID: 10}, {ID: 2, AuthorID: 20}},
		Reviewers:   []uint{10, 20},
		Groups:      map[uint][]uint{20: {1}},
	}

	plan := PlanRandom(input, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission, ExcludeSameGroup: true}, rand.New(rand.NewSource(1)))
	require.Len(t, plan.Add, 2)
	require.Len(t, plan.Issues, 1)
	require.Equal(t, uint(10), plan.Issues[0].UserID)
}

func TestPlanRandomSelfAssessmentIgnoresTarget(t *testing.T) {
	input := tenStudents()
	input.AllowSelfAssessment = true

	plan := PlanRandom(input, RandomSettings{NumOfReviews: 1, NumPer: NumPerSubmission, AddSelfAssessment: true}, rand.New(rand.NewSource(9)))

	self := 0
	for _, edge := range plan.Add {
		if edge.Self {
			self++
			require.Equal(t, edge.AuthorID, edge.ReviewerID)
		} else {
			require.NotEqual(t, edge.AuthorID, edge.ReviewerID)
		}
	}
	require.Equal(t, 10, self)
	require.Len(t, plan.Add, 20)
	for _, count := range receivedCounts(plan) {
		require.Equal(t, 1, count)
	}
}

func TestPlanRandomPerReviewer(t *testing.T) {
	input := tenStudents()
	plan := PlanRandom(input, RandomSettings{NumOfReviews: 2, NumPer: NumPerReviewer}, rand.New(rand.NewSource(13)))

	given := make(map[uint]int)
	for _, edge := range plan.Add {
		given[edge.ReviewerID]++
	}
	for _, reviewer := range input.Reviewers {
		require.Equal(t, 2, given[reviewer])
	}
	require.Empty(t, plan.Issues)
}

func TestRandomSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultRandomSettings().Validate(nil))
	require.ErrorIs(t, RandomSettings{NumOfReviews: 2, NumPer: "group"}.Validate(nil), ErrInvalidSettings)
	require.ErrorIs(t, RandomSettings{NumOfReviews: 31, NumPer: NumPerSubmission}.Validate(nil), ErrInvalidSettings)
	require.ErrorIs(t, RandomSettings{NumPer: NumPerSubmission}.Validate(nil), ErrInvalidSettings)
	require.NoError(t, RandomSettings{NumPer: NumPerSubmission, AddSelfAssessment: true}.Validate(nil))

	restored, err := SettingsFromJSONMap(RandomSettings{NumOfReviews: 4, NumPer: NumPerReviewer, RemoveCurrent: true}.ToJSONMap())
	require.NoError(t, err)
	require.Equal(t, RandomSettings{NumOfReviews: 4, NumPer: NumPerReviewer, RemoveCurrent: true}, restored)
}
