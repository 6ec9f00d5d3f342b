// Package workflow derives one canonical status for a submission from the
// per-step completion and scoring facts. The derivation is a pure function
// of its inputs and is recomputed on every query, never cached across a
// write.
package workflow

// Status is the canonical workflow state of a submission.
type Status string

const (
	StatusTraining  Status = "training"
	StatusPeer      Status = "peer"
	StatusSelf      Status = "self"
	StatusWaiting   Status = "waiting"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Step names.
const (
	StepTraining = "training"
	StepPeer     = "peer"
	StepSelf     = "self"
	StepStaff    = "staff"
)

// StepState is one enabled step's current facts. Complete is the
// submit-side requirement (has the learner done their part); HasScore is
// whether the step has produced a qualifying score for this submission.
type StepState struct {
	Name     string
	Staff    bool
	Complete bool
	HasScore bool
}

// Derive walks the enabled steps in their configured order. The first step
// with an unmet submit-side requirement names the status; once all are met
// the submission is waiting until any step produces a score. A staff score
// is authoritative and wins regardless of other steps' progress.
func Derive(cancelled bool, steps []StepState) Status {
	if cancelled {
		return StatusCancelled
	}
	for _, st := range steps {
		if st.Staff && st.HasScore {
			return StatusDone
		}
	}
	for _, st := range steps {
		if st.Staff {
			// Staff grading has no submit-side requirement for the learner.
			continue
		}
		if !st.Complete {
			return Status(st.Name)
		}
	}
	for _, st := range steps {
		if st.HasScore {
			return StatusDone
		}
	}
	return StatusWaiting
}
