package peer

import (
	"context"
	"time"
)

// Candidate is one submission the allocation algorithm may assign, with the
// facts the priority rules need. Counts exclude cancelled workflows.
type Candidate struct {
	SubmissionUUID string
	// CreatedAt of the author's workflow.
	CreatedAt time.Time
	// SubmittedAt of the underlying submission, the age tie-break. Filled by
	// the service from the submission facade; falls back to CreatedAt when
	// the submission is gone.
	SubmittedAt time.Time
	// QualifyingReviews is the number of completed reviews from
	// non-cancelled reviewers.
	QualifyingReviews int
	// TotalReviews counts every completed review, qualifying or not.
	TotalReviews int
	// ReviewedByReviewer is true when the requesting reviewer already holds
	// or completed a lease on this submission.
	ReviewedByReviewer bool
}

// Stats is a point-in-time view of review progress on one submission.
type Stats struct {
	OpenLeases       int `json:"open_leases"`
	CompletedReviews int `json:"completed_reviews"`
	ScoredReviews    int `json:"scored_reviews"`
}

// SubmitParams drives the single-transaction submit path: persist the
// assessment, close the lease, mark the scored subset if the target just
// reached its quota, and stamp the reviewer's completion if theirs is met.
type SubmitParams struct {
	ReviewerSubmissionUUID string
	ItemID                 int64
	Assessment             Assessment
	MustGrade              int
	MustBeGradedBy         int
	Now                    time.Time
}

// Store is the engine's persistence contract. Implementations must be safe
// for concurrent use from independent request handlers.
type Store interface {
	// CreateWorkflow is idempotent: a uniqueness violation from a
	// concurrent first-access means another handler won the race, and the
	// existing row is returned as success.
	CreateWorkflow(ctx context.Context, w Workflow) (Workflow, error)
	GetWorkflow(ctx context.Context, submissionUUID string) (Workflow, bool, error)

	// OpenItem returns the reviewer's open lease, if any.
	OpenItem(ctx context.Context, reviewerSubmissionUUID string) (WorkflowItem, bool, error)
	CreateItem(ctx context.Context, reviewerSubmissionUUID, submissionUUID string, startedAt time.Time) (WorkflowItem, error)

	// Candidates lists every other learner's submission in the reviewer's
	// (course, item) scope. The reviewer's own submission and cancelled
	// workflows are excluded by the implementation.
	Candidates(ctx context.Context, reviewerSubmissionUUID string) ([]Candidate, error)

	// CompletedReviewCount is the number of closed leases held by the
	// reviewer.
	CompletedReviewCount(ctx context.Context, reviewerSubmissionUUID string) (int, error)
	// QualifyingReviewCount is the number of completed qualifying reviews
	// received by the submission.
	QualifyingReviewCount(ctx context.Context, submissionUUID string) (int, error)

	SetCompleted(ctx context.Context, submissionUUID string, at time.Time) error
	SetCancelled(ctx context.Context, submissionUUID string, at time.Time) error

	// SubmitAssessment runs steps 3-5 of the write path in one
	// transaction. A failure leaves no partial state behind.
	SubmitAssessment(ctx context.Context, p SubmitParams) (Assessment, error)

	// EnsureScored marks the earliest completed qualifying reviews as
	// scored until n of them are, never unmarking any. Ordering is by
	// assessment scored_at, then assessment ID as the stable secondary key.
	EnsureScored(ctx context.Context, submissionUUID string, n int) error
	// ScoredAssessments returns the assessments whose reviews are marked
	// scored, in the same ordering.
	ScoredAssessments(ctx context.Context, submissionUUID string) ([]Assessment, error)

	Stats(ctx context.Context, submissionUUID string) (Stats, error)
}
