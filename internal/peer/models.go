package peer

import "time"

// Score type tags on assessments.
const (
	ScoreTypePeer  = "PE"
	ScoreTypeSelf  = "SE"
	ScoreTypeStaff = "ST"
)

// Feedback size caps, enforced before anything is persisted.
const (
	MaxOverallFeedback   = 10000
	MaxCriterionFeedback = 2000
)

// Workflow is the per-learner reviewer state, keyed by the learner's own
// submission UUID. Created once when the learner starts the step.
type Workflow struct {
	SubmissionUUID string     `json:"submission_uuid"`
	StudentID      string     `json:"student_id"`
	CourseID       string     `json:"course_id"`
	ItemID         string     `json:"item_id"`
	CreatedAt      time.Time  `json:"created_at"`
	// CompletedAt is stamped once the learner has reviewed enough peers.
	// Once set it is never recomputed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// CancelledAt excludes this workflow from all future allocation and
	// scoring. Historical rows are kept.
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func (w Workflow) Cancelled() bool { return w.CancelledAt != nil }

// WorkflowItem is one review lease: reviewer (by their own submission UUID)
// against the submission under review. The lease is open while AssessmentID
// is empty and closes when the review is submitted. A reviewer holds at
// most one open lease at a time; the allocation algorithm enforces this by
// returning the open lease instead of selecting a new candidate.
type WorkflowItem struct {
	ID                     int64     `json:"id"`
	ReviewerSubmissionUUID string    `json:"reviewer_submission_uuid"`
	SubmissionUUID         string    `json:"submission_uuid"`
	StartedAt              time.Time `json:"started_at"`
	AssessmentID           string    `json:"assessment_id,omitempty"`
	// Scored marks this review as one of the required N that feed the
	// author's final score. Surplus (over-grading) reviews stay false.
	Scored bool `json:"scored"`
}

func (it WorkflowItem) Open() bool { return it.AssessmentID == "" }

// Part is the reviewer's choice for one criterion. OptionName is empty for
// feedback-only criteria.
type Part struct {
	CriterionName string `json:"criterion_name"`
	OptionName    string `json:"option_name,omitempty"`
	Points        int    `json:"points"`
	Feedback      string `json:"feedback,omitempty"`
}

// Assessment is an immutable record of one completed review.
type Assessment struct {
	ID             string    `json:"id"`
	ScorerID       string    `json:"scorer_id"`
	SubmissionUUID string    `json:"submission_uuid"`
	ScoreType      string    `json:"score_type"`
	ScoredAt       time.Time `json:"scored_at"`
	Feedback       string    `json:"feedback,omitempty"`
	RubricHash     string    `json:"rubric_hash"`
	Parts          []Part    `json:"parts"`
}

// PointsByCriterion flattens the parts for the scoring aggregator.
func (a Assessment) PointsByCriterion() map[string]int {
	out := make(map[string]int, len(a.Parts))
	for _, p := range a.Parts {
		if p.OptionName == "" {
			continue
		}
		out[p.CriterionName] = p.Points
	}
	return out
}

// Requirements is per-problem configuration, supplied by the caller on
// every operation rather than persisted per submission.
type Requirements struct {
	MustGrade             int  `json:"must_grade"`
	MustBeGradedBy        int  `json:"must_be_graded_by"`
	EnableFlexibleGrading bool `json:"enable_flexible_grading,omitempty"`
}

// Flexible grading kicks in once a submission has waited this long, cutting
// the required review count to 30% of the original with a floor of 1.
const (
	flexibleGradingAge     = 7 * 24 * time.Hour
	flexibleGradingPercent = 30
)

// EffectiveMustBeGradedBy recomputes the requirement on every read; the age
// threshold crosses dynamically so the result must never be cached. The
// reduction only ever lowers the bar.
func (r Requirements) EffectiveMustBeGradedBy(submittedAt, now time.Time) int {
	if !r.EnableFlexibleGrading || submittedAt.IsZero() {
		return r.MustBeGradedBy
	}
	if now.Sub(submittedAt) < flexibleGradingAge {
		return r.MustBeGradedBy
	}
	reduced := r.MustBeGradedBy * flexibleGradingPercent / 100
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

// Score is the aggregate over the contributing assessments.
type Score struct {
	PointsEarned              int            `json:"points_earned"`
	PointsPossible            int            `json:"points_possible"`
	CriterionScores           map[string]int `json:"criterion_scores"`
	ContributingAssessmentIDs []string       `json:"contributing_assessment_ids"`
}
