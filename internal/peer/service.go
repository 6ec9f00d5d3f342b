package peer

import (
	"context"
	"errors"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/peergrade/internal/rubric"
	"github.com/mind-engage/peergrade/internal/scoring"
	"github.com/mind-engage/peergrade/internal/submission"
)

// Service is the peer allocation engine. All operations are short
// synchronous calls against the shared store; correctness under concurrent
// handlers rests on the store's transaction in SubmitAssessment and on the
// idempotent workflow creation.
type Service struct {
	store   Store
	subs    submission.Store
	rubrics *rubric.Cache
	log     *zap.Logger
	now     func() time.Time
}

func NewService(store Store, subs submission.Store, log *zap.Logger, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, subs: subs, rubrics: rubric.Default, log: log, now: now}
}

// StartWorkflow creates the learner's reviewer state. Idempotent: calling
// it again, or racing another handler, converges on the one existing row.
func (s *Service) StartWorkflow(ctx context.Context, submissionUUID string) (Workflow, error) {
	sub, err := s.subs.Get(ctx, submissionUUID)
	if errors.Is(err, submission.ErrNotFound) {
		return Workflow{}, requestErrorf("unknown submission %s", submissionUUID)
	}
	if err != nil {
		return Workflow{}, s.internal(err, "load submission", submissionUUID, "")
	}
	w, err := s.store.CreateWorkflow(ctx, Workflow{
		SubmissionUUID: sub.UUID,
		StudentID:      sub.AuthorID,
		CourseID:       sub.CourseID,
		ItemID:         sub.ItemID,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		return Workflow{}, s.internal(err, "create workflow", submissionUUID, sub.AuthorID)
	}
	return w, nil
}

// Workflow returns the reviewer state for a submission.
func (s *Service) Workflow(ctx context.Context, submissionUUID string) (Workflow, bool, error) {
	w, ok, err := s.store.GetWorkflow(ctx, submissionUUID)
	if err != nil {
		return Workflow{}, false, s.internal(err, "load workflow", submissionUUID, "")
	}
	return w, ok, nil
}

// GetSubmissionToReview assigns the reviewer their next submission, or nil
// when nothing is available. Re-entry with an open lease returns the same
// submission; a reviewer never receives their own.
func (s *Service) GetSubmissionToReview(ctx context.Context, reviewerSubmissionUUID string, req Requirements) (*submission.Submission, error) {
	wf, ok, err := s.store.GetWorkflow(ctx, reviewerSubmissionUUID)
	if err != nil {
		return nil, s.internal(err, "load workflow", reviewerSubmissionUUID, "")
	}
	if !ok {
		return nil, workflowErrorf("no workflow for submission %s", reviewerSubmissionUUID)
	}
	if wf.Cancelled() {
		return nil, nil
	}

	// Idempotent re-entry: an open lease pins the reviewer to one
	// submission until they submit.
	if item, ok, err := s.store.OpenItem(ctx, reviewerSubmissionUUID); err != nil {
		return nil, s.internal(err, "load open lease", reviewerSubmissionUUID, wf.StudentID)
	} else if ok {
		return s.fetch(ctx, item.SubmissionUUID, wf.StudentID)
	}

	cands, err := s.store.Candidates(ctx, reviewerSubmissionUUID)
	if err != nil {
		return nil, s.internal(err, "list candidates", reviewerSubmissionUUID, wf.StudentID)
	}
	// The age tie-break is the submission's submitted_at, not the workflow's
	// created_at; the two diverge for hosts that register workflows later.
	others, err := s.subs.ListOther(ctx, wf.CourseID, wf.ItemID, wf.StudentID)
	if err != nil {
		return nil, s.internal(err, "list peer submissions", reviewerSubmissionUUID, wf.StudentID)
	}
	submitted := make(map[string]time.Time, len(others))
	for _, o := range others {
		submitted[o.UUID] = o.SubmittedAt
	}
	for i := range cands {
		if at, ok := submitted[cands[i].SubmissionUUID]; ok {
			cands[i].SubmittedAt = at
		} else {
			cands[i].SubmittedAt = cands[i].CreatedAt
		}
	}
	target, ok := pickCandidate(cands, req.MustBeGradedBy)
	if !ok {
		return nil, nil
	}

	if _, err := s.store.CreateItem(ctx, reviewerSubmissionUUID, target, s.now().UTC()); err != nil {
		return nil, s.internal(err, "open lease", reviewerSubmissionUUID, wf.StudentID)
	}
	return s.fetch(ctx, target, wf.StudentID)
}

// pickCandidate applies the allocation priority: under-reviewed submissions
// first (fewest qualifying reviews, then oldest by submitted_at), then the
// over-grading
// fallback (fewest total reviews, then lowest UUID — a deterministic
// tie-break where the legacy behavior was unspecified). Submissions the
// reviewer already touched never come back.
func pickCandidate(cands []Candidate, mustBeGradedBy int) (string, bool) {
	fresh := cands[:0:0]
	for _, c := range cands {
		if c.ReviewedByReviewer {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return "", false
	}

	var active []Candidate
	for _, c := range fresh {
		if c.QualifyingReviews < mustBeGradedBy {
			active = append(active, c)
		}
	}
	if len(active) > 0 {
		sort.Slice(active, func(i, j int) bool {
			if active[i].QualifyingReviews != active[j].QualifyingReviews {
				return active[i].QualifyingReviews < active[j].QualifyingReviews
			}
			if !active[i].SubmittedAt.Equal(active[j].SubmittedAt) {
				return active[i].SubmittedAt.Before(active[j].SubmittedAt)
			}
			return active[i].SubmissionUUID < active[j].SubmissionUUID
		})
		return active[0].SubmissionUUID, true
	}

	// Over-grading: everyone has enough reviews, keep the reviewer busy.
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].TotalReviews != fresh[j].TotalReviews {
			return fresh[i].TotalReviews < fresh[j].TotalReviews
		}
		return fresh[i].SubmissionUUID < fresh[j].SubmissionUUID
	})
	return fresh[0].SubmissionUUID, true
}

// SubmitReview validates the reviewer's selections and runs the atomic
// write path: persist the assessment, close the lease, mark the scored
// subset when the author's quota is reached, and stamp the reviewer's own
// completion when theirs is.
func (s *Service) SubmitReview(ctx context.Context, reviewerSubmissionUUID, reviewerID string, optionsSelected, criterionFeedback map[string]string, overallFeedback string, r rubric.Rubric, req Requirements) (Assessment, error) {
	wf, ok, err := s.store.GetWorkflow(ctx, reviewerSubmissionUUID)
	if err != nil {
		return Assessment{}, s.internal(err, "load workflow", reviewerSubmissionUUID, reviewerID)
	}
	if !ok {
		return Assessment{}, workflowErrorf("no workflow for submission %s", reviewerSubmissionUUID)
	}
	if wf.Cancelled() {
		return Assessment{}, workflowErrorf("workflow for submission %s is cancelled", reviewerSubmissionUUID)
	}
	item, ok, err := s.store.OpenItem(ctx, reviewerSubmissionUUID)
	if err != nil {
		return Assessment{}, s.internal(err, "load open lease", reviewerSubmissionUUID, reviewerID)
	}
	if !ok {
		return Assessment{}, workflowErrorf("reviewer %s has no submission assigned for review", reviewerID)
	}

	if utf8.RuneCountInString(overallFeedback) > MaxOverallFeedback {
		return Assessment{}, requestErrorf("overall feedback exceeds %d characters", MaxOverallFeedback)
	}
	idx := s.rubrics.Get(r)
	parts, err := BuildParts(idx, optionsSelected, criterionFeedback)
	if err != nil {
		return Assessment{}, err
	}

	a := Assessment{
		ID:             uuid.NewString(),
		ScorerID:       reviewerID,
		SubmissionUUID: item.SubmissionUUID,
		ScoreType:      ScoreTypePeer,
		ScoredAt:       s.now().UTC(),
		Feedback:       overallFeedback,
		RubricHash:     r.ContentHash(),
		Parts:          parts,
	}
	saved, err := s.store.SubmitAssessment(ctx, SubmitParams{
		ReviewerSubmissionUUID: reviewerSubmissionUUID,
		ItemID:                 item.ID,
		Assessment:             a,
		MustGrade:              req.MustGrade,
		MustBeGradedBy:         req.MustBeGradedBy,
		Now:                    s.now().UTC(),
	})
	if errors.Is(err, errLeaseGone) {
		return Assessment{}, workflowErrorf("review lease for reviewer %s was already closed", reviewerID)
	}
	if err != nil {
		return Assessment{}, s.internal(err, "submit assessment", item.SubmissionUUID, reviewerID)
	}
	return saved, nil
}

// BuildParts validates a selection set against the rubric index and returns
// one part per criterion. Missing non-feedback-only criteria and unknown
// options reject the whole submission before anything persists. Also used
// by the self-assessment path.
func BuildParts(idx *rubric.Index, selected, feedback map[string]string) ([]Part, error) {
	if missing := idx.MissingCriteria(selected); len(missing) > 0 {
		return nil, requestErrorf("selection is missing criteria %v", missing)
	}
	r := idx.Rubric()
	parts := make([]Part, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		fb := feedback[c.Name]
		if utf8.RuneCountInString(fb) > MaxCriterionFeedback {
			return nil, requestErrorf("feedback for criterion %q exceeds %d characters", c.Name, MaxCriterionFeedback)
		}
		p := Part{CriterionName: c.Name, Feedback: fb}
		if len(c.Options) > 0 {
			opt, err := idx.FindOption(c.Name, selected[c.Name])
			if err != nil {
				return nil, &RequestError{Msg: "invalid rubric selection", Err: err}
			}
			p.OptionName = opt.Name
			p.Points = opt.Points
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// IsReviewerDone reports whether the reviewer has satisfied their quota and
// the number of reviews they completed. The first true is stamped on the
// workflow and sticks: a later cancellation of a counted review never flips
// a learner back to incomplete.
func (s *Service) IsReviewerDone(ctx context.Context, reviewerSubmissionUUID string, mustGrade int) (bool, int, error) {
	wf, ok, err := s.store.GetWorkflow(ctx, reviewerSubmissionUUID)
	if err != nil {
		return false, 0, s.internal(err, "load workflow", reviewerSubmissionUUID, "")
	}
	if !ok {
		return false, 0, workflowErrorf("no workflow for submission %s", reviewerSubmissionUUID)
	}
	count, err := s.store.CompletedReviewCount(ctx, reviewerSubmissionUUID)
	if err != nil {
		return false, 0, s.internal(err, "count reviews", reviewerSubmissionUUID, wf.StudentID)
	}
	if wf.CompletedAt != nil {
		return true, count, nil
	}
	if count >= mustGrade {
		if err := s.store.SetCompleted(ctx, reviewerSubmissionUUID, s.now().UTC()); err != nil {
			return false, 0, s.internal(err, "stamp completion", reviewerSubmissionUUID, wf.StudentID)
		}
		return true, count, nil
	}
	return false, count, nil
}

// AssessmentIsFinished reports whether the submission has received enough
// qualifying reviews, applying the flexible-grading reduction on every
// read. Missing data degrades to "not done" rather than failing.
func (s *Service) AssessmentIsFinished(ctx context.Context, submissionUUID string, req Requirements) (bool, error) {
	wf, ok, err := s.store.GetWorkflow(ctx, submissionUUID)
	if err != nil {
		return false, s.internal(err, "load workflow", submissionUUID, "")
	}
	if !ok || wf.Cancelled() {
		return false, nil
	}
	required := req.MustBeGradedBy
	if sub, err := s.subs.Get(ctx, submissionUUID); err == nil {
		required = req.EffectiveMustBeGradedBy(sub.SubmittedAt, s.now())
	}
	count, err := s.store.QualifyingReviewCount(ctx, submissionUUID)
	if err != nil {
		return false, s.internal(err, "count qualifying reviews", submissionUUID, wf.StudentID)
	}
	return count >= required, nil
}

// GetScore returns the aggregate score, or nil while the submission is not
// yet fully reviewed. The contributing set is the scored-marked reviews;
// when flexible grading lowers the bar below the original quota, the
// earliest reviews are marked here so the result stays deterministic.
func (s *Service) GetScore(ctx context.Context, submissionUUID string, r rubric.Rubric, req Requirements) (*Score, error) {
	done, err := s.AssessmentIsFinished(ctx, submissionUUID, req)
	if err != nil || !done {
		return nil, err
	}
	wf, _, err := s.store.GetWorkflow(ctx, submissionUUID)
	if err != nil {
		return nil, s.internal(err, "load workflow", submissionUUID, "")
	}
	required := req.MustBeGradedBy
	if sub, err := s.subs.Get(ctx, submissionUUID); err == nil {
		required = req.EffectiveMustBeGradedBy(sub.SubmittedAt, s.now())
	}
	if err := s.store.EnsureScored(ctx, submissionUUID, required); err != nil {
		return nil, s.internal(err, "mark scored reviews", submissionUUID, wf.StudentID)
	}
	assessments, err := s.store.ScoredAssessments(ctx, submissionUUID)
	if err != nil {
		return nil, s.internal(err, "load scored assessments", submissionUUID, wf.StudentID)
	}
	if len(assessments) == 0 {
		return nil, nil
	}
	return Aggregate(assessments, r), nil
}

// Aggregate computes the median-by-criterion score over the given
// assessments. Shared with the self and staff pass-through paths, where the
// set is a single assessment.
func Aggregate(assessments []Assessment, r rubric.Rubric) *Score {
	flat := make([]map[string]int, 0, len(assessments))
	ids := make([]string, 0, len(assessments))
	for _, a := range assessments {
		flat = append(flat, a.PointsByCriterion())
		ids = append(ids, a.ID)
	}
	medians := scoring.MedianScores(flat)
	return &Score{
		PointsEarned:              scoring.TotalEarned(medians),
		PointsPossible:            scoring.TotalPossible(r),
		CriterionScores:           medians,
		ContributingAssessmentIDs: ids,
	}
}

// Cancel excludes the workflow from all future allocation and scoring.
// Historical assessments stay in storage. Idempotent.
func (s *Service) Cancel(ctx context.Context, submissionUUID string) error {
	wf, ok, err := s.store.GetWorkflow(ctx, submissionUUID)
	if err != nil {
		return s.internal(err, "load workflow", submissionUUID, "")
	}
	if !ok {
		return workflowErrorf("no workflow for submission %s", submissionUUID)
	}
	if wf.Cancelled() {
		return nil
	}
	if err := s.store.SetCancelled(ctx, submissionUUID, s.now().UTC()); err != nil {
		return s.internal(err, "cancel workflow", submissionUUID, wf.StudentID)
	}
	return nil
}

// Stats exposes review progress for the status surface.
func (s *Service) Stats(ctx context.Context, submissionUUID string) (Stats, error) {
	st, err := s.store.Stats(ctx, submissionUUID)
	if err != nil {
		return Stats{}, s.internal(err, "load stats", submissionUUID, "")
	}
	return st, nil
}

func (s *Service) fetch(ctx context.Context, submissionUUID, studentID string) (*submission.Submission, error) {
	sub, err := s.subs.Get(ctx, submissionUUID)
	if err != nil {
		return nil, s.internal(err, "load assigned submission", submissionUUID, studentID)
	}
	return &sub, nil
}

func (s *Service) internal(err error, op, submissionUUID, studentID string) error {
	s.log.Error("peer engine storage failure",
		zap.String("op", op),
		zap.String("submission_uuid", submissionUUID),
		zap.String("reviewer_id", studentID),
		zap.Error(err),
	)
	return &InternalError{Msg: op + " failed", Err: err}
}
