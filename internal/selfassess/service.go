// Package selfassess is the pass-through assessment path: a single
// assessment per submission with no allocation. Self-assessments must come
// from the submission's author; staff assessments carry no author check and
// override peer scores when present.
package selfassess

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mind-engage/peergrade/internal/peer"
	"github.com/mind-engage/peergrade/internal/rubric"
	"github.com/mind-engage/peergrade/internal/submission"
)

// Store persists non-peer assessments, one per (submission, score type).
type Store interface {
	Create(ctx context.Context, a peer.Assessment) error
	// Latest returns the most recent assessment of the given score type,
	// or ok=false when none exists.
	Latest(ctx context.Context, submissionUUID, scoreType string) (peer.Assessment, bool, error)
}

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

// Submit records the author's self-assessment. Exactly one is allowed per
// submission and the scorer must be the author.
func (s *Service) Submit(ctx context.Context, submissionUUID, scorerID string, selected, criterionFeedback map[string]string, overallFeedback string, r rubric.Rubric) (peer.Assessment, error) {
	sub, err := s.subs.Get(ctx, submissionUUID)
	if errors.Is(err, submission.ErrNotFound) {
		return peer.Assessment{}, &peer.RequestError{Msg: "unknown submission " + submissionUUID}
	}
	if err != nil {
		return peer.Assessment{}, s.internal(err, "load submission", submissionUUID, scorerID)
	}
	if sub.AuthorID != scorerID {
		return peer.Assessment{}, &peer.RequestError{Msg: "self-assessment scorer does not match the submission author"}
	}
	if _, ok, err := s.store.Latest(ctx, submissionUUID, peer.ScoreTypeSelf); err != nil {
		return peer.Assessment{}, s.internal(err, "load self-assessment", submissionUUID, scorerID)
	} else if ok {
		return peer.Assessment{}, &peer.RequestError{Msg: "submission already has a self-assessment"}
	}
	return s.create(ctx, submissionUUID, scorerID, peer.ScoreTypeSelf, selected, criterionFeedback, overallFeedback, r)
}

// SubmitStaff records a staff assessment. Role enforcement belongs to the
// caller; repeated staff assessments are allowed and the latest wins.
func (s *Service) SubmitStaff(ctx context.Context, submissionUUID, scorerID string, selected, criterionFeedback map[string]string, overallFeedback string, r rubric.Rubric) (peer.Assessment, error) {
	if _, err := s.subs.Get(ctx, submissionUUID); errors.Is(err, submission.ErrNotFound) {
		return peer.Assessment{}, &peer.RequestError{Msg: "unknown submission " + submissionUUID}
	} else if err != nil {
		return peer.Assessment{}, s.internal(err, "load submission", submissionUUID, scorerID)
	}
	return s.create(ctx, submissionUUID, scorerID, peer.ScoreTypeStaff, selected, criterionFeedback, overallFeedback, r)
}

func (s *Service) create(ctx context.Context, submissionUUID, scorerID, scoreType string, selected, criterionFeedback map[string]string, overallFeedback string, r rubric.Rubric) (peer.Assessment, error) {
	if utf8.RuneCountInString(overallFeedback) > peer.MaxOverallFeedback {
		return peer.Assessment{}, &peer.RequestError{Msg: "overall feedback too long"}
	}
	parts, err := peer.BuildParts(s.rubrics.Get(r), selected, criterionFeedback)
	if err != nil {
		return peer.Assessment{}, err
	}
	a := peer.Assessment{
		ID:             uuid.NewString(),
		ScorerID:       scorerID,
		SubmissionUUID: submissionUUID,
		ScoreType:      scoreType,
		ScoredAt:       s.now().UTC(),
		Feedback:       overallFeedback,
		RubricHash:     r.ContentHash(),
		Parts:          parts,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return peer.Assessment{}, s.internal(err, "persist assessment", submissionUUID, scorerID)
	}
	return a, nil
}

// Latest exposes the stored assessment for status and score derivation.
func (s *Service) Latest(ctx context.Context, submissionUUID, scoreType string) (peer.Assessment, bool, error) {
	a, ok, err := s.store.Latest(ctx, submissionUUID, scoreType)
	if err != nil {
		return peer.Assessment{}, false, s.internal(err, "load assessment", submissionUUID, "")
	}
	return a, ok, nil
}

func (s *Service) internal(err error, op, submissionUUID, scorerID string) error {
	s.log.Error("assessment storage failure",
		zap.String("op", op),
		zap.String("submission_uuid", submissionUUID),
		zap.String("reviewer_id", scorerID),
		zap.Error(err),
	)
	return &peer.InternalError{Msg: op + " failed", Err: err}
}
