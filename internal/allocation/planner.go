// Package allocation assigns reviewers to submissions. The random planner is
// pure; the Allocator applies a plan to storage in a single transaction and
// hosts the manual and scheduled policies.
package allocation

import (
	"fmt"
	"math/rand"
	"sort"
)

// Issue levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// SubmissionRef is a submission taking part in allocation.
type SubmissionRef struct {
	ID       uint
	AuthorID uint
}

// Edge is a reviewer assigned to a submission.
type Edge struct {
	AssessmentID uint `json:"assessment_id,omitempty"`
	SubmissionID uint `json:"submission_id"`
	AuthorID     uint `json:"author_id"`
	ReviewerID   uint `json:"reviewer_id"`
	Self         bool `json:"self_assessment"`
	Graded       bool `json:"graded,omitempty"`
}

// Issue is a per-item note produced while planning. Warnings describe targets
// that could not be met; they never abort the run.
type Issue struct {
	Level        string `json:"level"`
	Message      string `json:"message"`
	SubmissionID uint   `json:"submission_id,omitempty"`
	UserID       uint   `json:"user_id,omitempty"`
}

// Input is everything the planner needs. Submissions and Reviewers are
// expected in a stable order so a seeded run is reproducible.
type Input struct {
	Submissions []SubmissionRef
	Reviewers   []uint
	// Groups maps user id to group ids. Nil disables same-group exclusion.
	Groups              map[uint][]uint
	Existing            []Edge
	AllowSelfAssessment bool
}

// Plan is the set of edge mutations for one run.
type Plan struct {
	Add    []Edge
	Remove []Edge
	Keep   []Edge
	Issues []Issue
}

type pair struct {
	submission uint
	reviewer   uint
}

type planner struct {
	input    Input
	settings RandomSettings
	rng      *rand.Rand

	authors   map[uint]uint
	existing  map[pair]Edge
	selected  map[pair]bool
	received  map[uint]int
	given     map[uint]int
	groupless map[uint]bool
	issues    []Issue
}

// PlanRandom computes a random, approximately balanced allocation. Ties
// between equally loaded candidates are broken by shuffling with rng before a
// stable sort on load, so the same seed and input always give the same plan.
func PlanRandom(input Input, settings RandomSettings, rng *rand.Rand) Plan {
	p := &planner{
		input:     input,
		settings:  settings,
		rng:       rng,
		authors:   make(map[uint]uint, len(input.Submissions)),
		existing:  make(map[pair]Edge, len(input.Existing)),
		selected:  make(map[pair]bool),
		received:  make(map[uint]int),
		given:     make(map[uint]int),
		groupless: make(map[uint]bool),
	}
	for _, submission := range input.Submissions {
		p.authors[submission.ID] = submission.AuthorID
	}
	for _, edge := range input.Existing {
		p.existing[pair{edge.SubmissionID, edge.ReviewerID}] = edge
	}

	if !settings.RemoveCurrent {
		for _, edge := range input.Existing {
			if edge.Self {
				continue
			}
			p.received[edge.SubmissionID]++
			p.given[edge.ReviewerID]++
		}
	}

	if settings.NumOfReviews > 0 {
		if settings.NumPer == NumPerReviewer {
			p.allocatePerReviewer()
		} else {
			p.allocatePerSubmission()
		}
	}

	plan := Plan{}
	for _, edge := range p.selfEdges() {
		if existing, ok := p.existing[pair{edge.SubmissionID, edge.ReviewerID}]; ok {
			plan.Keep = append(plan.Keep, existing)
			continue
		}
		plan.Add = append(plan.Add, edge)
	}

	for _, submission := range input.Submissions {
		for _, reviewer := range input.Reviewers {
			key := pair{submission.ID, reviewer}
			if !p.selected[key] {
				continue
			}
			if existing, ok := p.existing[key]; ok {
				plan.Keep = append(plan.Keep, existing)
				continue
			}
			plan.Add = append(plan.Add, Edge{SubmissionID: submission.ID, AuthorID: submission.AuthorID, ReviewerID: reviewer})
		}
	}

	for _, edge := range input.Existing {
		key := pair{edge.SubmissionID, edge.ReviewerID}
		if edge.Self || p.selected[key] {
			continue
		}
		if settings.RemoveCurrent {
			plan.Remove = append(plan.Remove, edge)
			if edge.Graded {
				p.issues = append(p.issues, Issue{
					Level:        LevelInfo,
					Message:      fmt.Sprintf("removed graded assessment of submission %d by reviewer %d", edge.SubmissionID, edge.ReviewerID),
					SubmissionID: edge.SubmissionID,
					UserID:       edge.ReviewerID,
				})
			}
			continue
		}
		plan.Keep = append(plan.Keep, edge)
	}

	plan.Issues = p.issues
	return plan
}

// allocatePerSubmission gives every submission NumOfReviews reviewers.
func (p *planner) allocatePerSubmission() {
	target := p.settings.NumOfReviews
	short := make(map[uint]bool)

	for round := 0; round < target; round++ {
		order := p.shuffledSubmissions()
		for _, submission := range order {
			if p.received[submission.ID] >= target || short[submission.ID] {
				continue
			}
			reviewer, ok := p.pickReviewer(submission)
			if !ok {
				short[submission.ID] = true
				continue
			}
			p.assign(submission.ID, reviewer)
		}
	}

	for _, submission := range p.input.Submissions {
		if got := p.received[submission.ID]; got < target {
			p.issues = append(p.issues, Issue{
				Level:        LevelWarning,
				Message:      fmt.Sprintf("not enough reviewers for submission %d: %d of %d", submission.ID, got, target),
				SubmissionID: submission.ID,
				UserID:       submission.AuthorID,
			})
		}
	}
}

// allocatePerReviewer gives every reviewer NumOfReviews submissions to assess.
func (p *planner) allocatePerReviewer() {
	target := p.settings.NumOfReviews
	short := make(map[uint]bool)

	for round := 0; round < target; round++ {
		order := p.shuffledReviewers()
		for _, reviewer := range order {
			if p.given[reviewer] >= target || short[reviewer] {
				continue
			}
			submission, ok := p.pickSubmission(reviewer)
			if !ok {
				short[reviewer] = true
				continue
			}
			p.assign(submission, reviewer)
		}
	}

	for _, reviewer := range p.input.Reviewers {
		if got := p.given[reviewer]; got < target {
			p.issues = append(p.issues, Issue{
				Level:   LevelWarning,
				Message: fmt.Sprintf("not enough submissions for reviewer %d: %d of %d", reviewer, got, target),
				UserID:  reviewer,
			})
		}
	}
}

func (p *planner) shuffledSubmissions() []SubmissionRef {
	order := append([]SubmissionRef(nil), p.input.Submissions...)
	p.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	sort.SliceStable(order, func(i, j int) bool {
		return p.received[order[i].ID] < p.received[order[j].ID]
	})
	return order
}

func (p *planner) shuffledReviewers() []uint {
	order := append([]uint(nil), p.input.Reviewers...)
	p.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	sort.SliceStable(order, func(i, j int) bool {
		return p.given[order[i]] < p.given[order[j]]
	})
	return order
}

func (p *planner) pickReviewer(submission SubmissionRef) (uint, bool) {
	candidates := make([]uint, 0, len(p.input.Reviewers))
	for _, reviewer := range p.input.Reviewers {
		if p.compatible(submission.ID, submission.AuthorID, reviewer) {
			candidates = append(candidates, reviewer)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	p.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	sort.SliceStable(candidates, func(i, j int) bool {
		return p.given[candidates[i]] < p.given[candidates[j]]
	})
	return candidates[0], true
}

func (p *planner) pickSubmission(reviewer uint) (uint, bool) {
	candidates := make([]SubmissionRef, 0, len(p.input.Submissions))
	for _, submission := range p.input.Submissions {
		if p.compatible(submission.ID, submission.AuthorID, reviewer) {
			candidates = append(candidates, submission)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	p.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	sort.SliceStable(candidates, func(i, j int) bool {
		return p.received[candidates[i].ID] < p.received[candidates[j].ID]
	})
	return candidates[0].ID, true
}

// compatible reports whether reviewer may be newly assigned to the submission.
// Self edges are never produced here; they are added separately.
func (p *planner) compatible(submissionID, authorID, reviewer uint) bool {
	if reviewer == authorID {
		return false
	}
	key := pair{submissionID, reviewer}
	if p.selected[key] {
		return false
	}
	if _, ok := p.existing[key]; ok && !p.settings.RemoveCurrent {
		return false
	}
	if p.settings.ExcludeSameGroup && p.input.Groups != nil && p.shareGroup(authorID, reviewer) {
		return false
	}
	return true
}

func (p *planner) shareGroup(authorID, reviewer uint) bool {
	authorGroups := p.input.Groups[authorID]
	if len(authorGroups) == 0 {
		if !p.groupless[authorID] {
			p.groupless[authorID] = true
			p.issues = append(p.issues, Issue{
				Level:   LevelWarning,
				Message: fmt.Sprintf("author %d has no group; treated as a group of its own", authorID),
				UserID:  authorID,
			})
		}
		return false
	}
	for _, theirs := range p.input.Groups[reviewer] {
		for _, mine := range authorGroups {
			if theirs == mine {
				return true
			}
		}
	}
	return false
}

func (p *planner) assign(submissionID, reviewer uint) {
	p.selected[pair{submissionID, reviewer}] = true
	p.received[submissionID]++
	p.given[reviewer]++
}

func (p *planner) selfEdges() []Edge {
	if !p.settings.AddSelfAssessment {
		return nil
	}
	eligible := make(map[uint]bool, len(p.input.Reviewers))
	for _, reviewer := range p.input.Reviewers {
		eligible[reviewer] = true
	}
	var edges []Edge
	for _, submission := range p.input.Submissions {
		if !eligible[submission.AuthorID] {
			continue
		}
		edges = append(edges, Edge{
			SubmissionID: submission.ID,
			AuthorID:     submission.AuthorID,
			ReviewerID:   submission.AuthorID,
			Self:         true,
		})
	}
	return edges
}
