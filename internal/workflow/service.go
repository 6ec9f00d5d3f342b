package workflow

import (
	"context"

	"github.com/mind-engage/peergrade/internal/peer"
	"github.com/mind-engage/peergrade/internal/rubric"
	"github.com/mind-engage/peergrade/internal/selfassess"
)

// TrainingCheck is the external collaborator hook for the training step.
// Nil means the host does not gate on training completion.
type TrainingCheck func(ctx context.Context, submissionUUID string) (bool, error)

// Config describes one problem's enabled steps and grading policy.
type Config struct {
	// Steps in their configured order, any subset of training/peer/self.
	// Staff is always consulted for the score override and need not be
	// listed.
	Steps            []string
	Requirements     peer.Requirements
	Rubric           rubric.Rubric
	TrainingComplete TrainingCheck
}

func (c Config) hasStep(name string) bool {
	for _, s := range c.Steps {
		if s == name {
			return true
		}
	}
	return false
}

// Service answers "where is this submission in its workflow" and "what is
// its authoritative score" by combining the peer engine with the
// pass-through assessment paths.
type Service struct {
	peers *peer.Service
	self  *selfassess.Service
}

func NewService(peers *peer.Service, self *selfassess.Service) *Service {
	return &Service{peers: peers, self: self}
}

// Status recomputes the canonical status from current facts.
func (s *Service) Status(ctx context.Context, submissionUUID string, cfg Config) (Status, error) {
	wf, ok, err := s.peers.Workflow(ctx, submissionUUID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &peer.WorkflowError{Msg: "no workflow for submission " + submissionUUID}
	}

	var steps []StepState
	for _, name := range cfg.Steps {
		switch name {
		case StepTraining:
			complete := true
			if cfg.TrainingComplete != nil {
				// Degrade to incomplete on error rather than failing the
				// whole status read.
				if done, err := cfg.TrainingComplete(ctx, submissionUUID); err == nil {
					complete = done
				} else {
					complete = false
				}
			}
			steps = append(steps, StepState{Name: StepTraining, Complete: complete})
		case StepPeer:
			done, _, err := s.peers.IsReviewerDone(ctx, submissionUUID, cfg.Requirements.MustGrade)
			if err != nil {
				return "", err
			}
			scored, err := s.peers.AssessmentIsFinished(ctx, submissionUUID, cfg.Requirements)
			if err != nil {
				return "", err
			}
			steps = append(steps, StepState{Name: StepPeer, Complete: done, HasScore: scored})
		case StepSelf:
			_, has, err := s.self.Latest(ctx, submissionUUID, peer.ScoreTypeSelf)
			if err != nil {
				return "", err
			}
			// The self assessment only designates the score in self-only
			// flows; alongside a peer step it is a submit-side requirement.
			steps = append(steps, StepState{Name: StepSelf, Complete: has, HasScore: has && !cfg.hasStep(StepPeer)})
		}
	}
	if _, has, err := s.self.Latest(ctx, submissionUUID, peer.ScoreTypeStaff); err != nil {
		return "", err
	} else if has {
		steps = append(steps, StepState{Name: StepStaff, Staff: true, HasScore: true})
	}

	return Derive(wf.Cancelled(), steps), nil
}

// Score returns the authoritative aggregate for a submission, or nil while
// no step has produced one. A staff assessment overrides peer and self.
func (s *Service) Score(ctx context.Context, submissionUUID string, cfg Config) (*peer.Score, error) {
	if staff, ok, err := s.self.Latest(ctx, submissionUUID, peer.ScoreTypeStaff); err != nil {
		return nil, err
	} else if ok {
		return peer.Aggregate([]peer.Assessment{staff}, cfg.Rubric), nil
	}
	if cfg.hasStep(StepPeer) {
		return s.peers.GetScore(ctx, submissionUUID, cfg.Rubric, cfg.Requirements)
	}
	if cfg.hasStep(StepSelf) {
		if self, ok, err := s.self.Latest(ctx, submissionUUID, peer.ScoreTypeSelf); err != nil {
			return nil, err
		} else if ok {
			return peer.Aggregate([]peer.Assessment{self}, cfg.Rubric), nil
		}
	}
	return nil, nil
}
