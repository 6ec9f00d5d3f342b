package peer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps the whole engine state under one lock, which makes it a
// faithful stand-in for the SQL store's transaction in tests and in the
// gateway's offline mode.
type memoryStore struct {
	mu          sync.Mutex
	workflows   map[string]*Workflow // keyed by submission UUID
	items       []*WorkflowItem
	assessments map[string]Assessment
	nextItemID  int64
}

func NewInMemoryStore() Store {
	return &memoryStore{
		workflows:   map[string]*Workflow{},
		assessments: map[string]Assessment{},
	}
}

func (m *memoryStore) CreateWorkflow(_ context.Context, w Workflow) (Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.workflows[w.SubmissionUUID]; ok {
		return *existing, nil
	}
	cp := w
	m.workflows[w.SubmissionUUID] = &cp
	return cp, nil
}

func (m *memoryStore) GetWorkflow(_ context.Context, submissionUUID string) (Workflow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[submissionUUID]
	if !ok {
		return Workflow{}, false, nil
	}
	return *w, true, nil
}

func (m *memoryStore) OpenItem(_ context.Context, reviewerSubmissionUUID string) (WorkflowItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ReviewerSubmissionUUID == reviewerSubmissionUUID && it.Open() {
			return *it, true, nil
		}
	}
	return WorkflowItem{}, false, nil
}

func (m *memoryStore) CreateItem(_ context.Context, reviewerSubmissionUUID, submissionUUID string, startedAt time.Time) (WorkflowItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextItemID++
	it := &WorkflowItem{
		ID:                     m.nextItemID,
		ReviewerSubmissionUUID: reviewerSubmissionUUID,
		SubmissionUUID:         submissionUUID,
		StartedAt:              startedAt,
	}
	m.items = append(m.items, it)
	return *it, nil
}

func (m *memoryStore) Candidates(_ context.Context, reviewerSubmissionUUID string) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.workflows[reviewerSubmissionUUID]
	if !ok {
		return nil, nil
	}
	var out []Candidate
	for _, w := range m.workflows {
		if w.SubmissionUUID == reviewerSubmissionUUID || w.Cancelled() {
			continue
		}
		if w.CourseID != me.CourseID || w.ItemID != me.ItemID {
			continue
		}
		c := Candidate{SubmissionUUID: w.SubmissionUUID, CreatedAt: w.CreatedAt}
		for _, it := range m.items {
			if it.SubmissionUUID != w.SubmissionUUID {
				continue
			}
			if it.ReviewerSubmissionUUID == reviewerSubmissionUUID {
				c.ReviewedByReviewer = true
			}
			if !it.Open() {
				c.TotalReviews++
				if m.qualifiesLocked(it) {
					c.QualifyingReviews++
				}
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmissionUUID < out[j].SubmissionUUID })
	return out, nil
}

// qualifiesLocked: a closed item counts only while its reviewer's workflow
// is not cancelled.
func (m *memoryStore) qualifiesLocked(it *WorkflowItem) bool {
	rw, ok := m.workflows[it.ReviewerSubmissionUUID]
	return ok && !rw.Cancelled()
}

func (m *memoryStore) CompletedReviewCount(_ context.Context, reviewerSubmissionUUID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completedByLocked(reviewerSubmissionUUID), nil
}

func (m *memoryStore) completedByLocked(reviewerSubmissionUUID string) int {
	n := 0
	for _, it := range m.items {
		if it.ReviewerSubmissionUUID == reviewerSubmissionUUID && !it.Open() {
			n++
		}
	}
	return n
}

func (m *memoryStore) QualifyingReviewCount(_ context.Context, submissionUUID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qualifyingOnLocked(submissionUUID), nil
}

func (m *memoryStore) qualifyingOnLocked(submissionUUID string) int {
	n := 0
	for _, it := range m.items {
		if it.SubmissionUUID == submissionUUID && !it.Open() && m.qualifiesLocked(it) {
			n++
		}
	}
	return n
}

func (m *memoryStore) SetCompleted(_ context.Context, submissionUUID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workflows[submissionUUID]; ok && w.CompletedAt == nil {
		t := at
		w.CompletedAt = &t
	}
	return nil
}

func (m *memoryStore) SetCancelled(_ context.Context, submissionUUID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workflows[submissionUUID]; ok && w.CancelledAt == nil {
		t := at
		w.CancelledAt = &t
	}
	return nil
}

func (m *memoryStore) SubmitAssessment(_ context.Context, p SubmitParams) (Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var item *WorkflowItem
	for _, it := range m.items {
		if it.ID == p.ItemID {
			item = it
			break
		}
	}
	if item == nil || !item.Open() {
		return Assessment{}, errLeaseGone
	}

	m.assessments[p.Assessment.ID] = p.Assessment
	item.AssessmentID = p.Assessment.ID

	if m.qualifyingOnLocked(item.SubmissionUUID) >= p.MustBeGradedBy {
		m.ensureScoredLocked(item.SubmissionUUID, p.MustBeGradedBy)
	}
	if w, ok := m.workflows[p.ReviewerSubmissionUUID]; ok && w.CompletedAt == nil {
		if m.completedByLocked(p.ReviewerSubmissionUUID) >= p.MustGrade {
			t := p.Now
			w.CompletedAt = &t
		}
	}
	return p.Assessment, nil
}

func (m *memoryStore) EnsureScored(_ context.Context, submissionUUID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureScoredLocked(submissionUUID, n)
	return nil
}

func (m *memoryStore) ensureScoredLocked(submissionUUID string, n int) {
	ordered := m.qualifyingItemsLocked(submissionUUID)
	scored := 0
	for _, it := range ordered {
		if it.Scored {
			scored++
		}
	}
	for _, it := range ordered {
		if scored >= n {
			break
		}
		if !it.Scored {
			it.Scored = true
			scored++
		}
	}
}

// qualifyingItemsLocked: closed qualifying items ordered by assessment
// scored_at, then assessment ID.
func (m *memoryStore) qualifyingItemsLocked(submissionUUID string) []*WorkflowItem {
	var out []*WorkflowItem
	for _, it := range m.items {
		if it.SubmissionUUID == submissionUUID && !it.Open() && m.qualifiesLocked(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := m.assessments[out[i].AssessmentID], m.assessments[out[j].AssessmentID]
		if !ai.ScoredAt.Equal(aj.ScoredAt) {
			return ai.ScoredAt.Before(aj.ScoredAt)
		}
		return ai.ID < aj.ID
	})
	return out
}

func (m *memoryStore) ScoredAssessments(_ context.Context, submissionUUID string) ([]Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assessment
	for _, it := range m.qualifyingItemsLocked(submissionUUID) {
		if it.Scored {
			out = append(out, m.assessments[it.AssessmentID])
		}
	}
	return out, nil
}

func (m *memoryStore) Stats(_ context.Context, submissionUUID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, it := range m.items {
		if it.SubmissionUUID != submissionUUID {
			continue
		}
		if it.Open() {
			st.OpenLeases++
			continue
		}
		st.CompletedReviews++
		if it.Scored {
			st.ScoredReviews++
		}
	}
	return st, nil
}
