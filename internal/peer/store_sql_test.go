package peer_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/peergrade/internal/db"
	"github.com/mind-engage/peergrade/internal/peer"
)

func openTestStore(t *testing.T) *peer.SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "peergrade-test.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return peer.NewSQLStore(dbh)
}

func seedWorkflow(t *testing.T, st *peer.SQLStore, submissionUUID, student string, createdAt time.Time) {
	t.Helper()
	_, err := st.CreateWorkflow(context.Background(), peer.Workflow{
		SubmissionUUID: submissionUUID,
		StudentID:      student,
		CourseID:       "course-1",
		ItemID:         "item-1",
		CreatedAt:      createdAt,
	})
	if err != nil {
		t.Fatalf("seed workflow %s: %v", submissionUUID, err)
	}
}

func submitOn(t *testing.T, st *peer.SQLStore, reviewerUUID, targetUUID string, at time.Time, req peer.Requirements) peer.Assessment {
	t.Helper()
	ctx := context.Background()
	item, err := st.CreateItem(ctx, reviewerUUID, targetUUID, at)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	a := peer.Assessment{
		ID:             uuid.NewString(),
		ScorerID:       "scorer-" + reviewerUUID,
		SubmissionUUID: targetUUID,
		ScoreType:      peer.ScoreTypePeer,
		ScoredAt:       at,
		RubricHash:     "hash",
		Parts: []peer.Part{
			{CriterionName: "Ideas", OptionName: "Good", Points: 4},
			{CriterionName: "Content", OptionName: "Weak", Points: 1},
		},
	}
	saved, err := st.SubmitAssessment(ctx, peer.SubmitParams{
		ReviewerSubmissionUUID: reviewerUUID,
		ItemID:                 item.ID,
		Assessment:             a,
		MustGrade:              req.MustGrade,
		MustBeGradedBy:         req.MustBeGradedBy,
		Now:                    at,
	})
	if err != nil {
		t.Fatalf("submit assessment: %v", err)
	}
	return saved
}

func TestSQLStoreWorkflowRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedWorkflow(t, st, "sub-a", "alice", created)

	// Idempotent creation: the second insert keeps the original row.
	w, err := st.CreateWorkflow(ctx, peer.Workflow{
		SubmissionUUID: "sub-a", StudentID: "alice",
		CourseID: "course-1", ItemID: "item-1",
		CreatedAt: created.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("re-create workflow: %v", err)
	}
	if !w.CreatedAt.Equal(created) {
		t.Fatalf("expected original created_at, got %v", w.CreatedAt)
	}

	got, ok, err := st.GetWorkflow(ctx, "sub-a")
	if err != nil || !ok {
		t.Fatalf("get workflow: ok=%v err=%v", ok, err)
	}
	if got.StudentID != "alice" || got.CompletedAt != nil || got.CancelledAt != nil {
		t.Fatalf("unexpected workflow: %+v", got)
	}

	if _, ok, _ := st.GetWorkflow(ctx, "missing"); ok {
		t.Fatal("expected no workflow for unknown uuid")
	}
}

func TestSQLStoreLeaseLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedWorkflow(t, st, "sub-a", "alice", base)
	seedWorkflow(t, st, "sub-b", "bob", base.Add(time.Minute))

	if _, ok, err := st.OpenItem(ctx, "sub-a"); err != nil || ok {
		t.Fatalf("expected no open item, ok=%v err=%v", ok, err)
	}
	item, err := st.CreateItem(ctx, "sub-a", "sub-b", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	open, ok, err := st.OpenItem(ctx, "sub-a")
	if err != nil || !ok {
		t.Fatalf("open item: ok=%v err=%v", ok, err)
	}
	if open.ID != item.ID || open.SubmissionUUID != "sub-b" {
		t.Fatalf("unexpected open item: %+v", open)
	}

	req := peer.Requirements{MustGrade: 1, MustBeGradedBy: 1}
	a := peer.Assessment{
		ID: uuid.NewString(), ScorerID: "alice", SubmissionUUID: "sub-b",
		ScoreType: peer.ScoreTypePeer, ScoredAt: base.Add(3 * time.Minute), RubricHash: "h",
		Parts: []peer.Part{{CriterionName: "Ideas", OptionName: "Good", Points: 4}},
	}
	if _, err := st.SubmitAssessment(ctx, peer.SubmitParams{
		ReviewerSubmissionUUID: "sub-a", ItemID: item.ID, Assessment: a,
		MustGrade: req.MustGrade, MustBeGradedBy: req.MustBeGradedBy, Now: a.ScoredAt,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Lease closed, reviewer count up, completion stamped.
	if _, ok, _ := st.OpenItem(ctx, "sub-a"); ok {
		t.Fatal("lease should be closed after submit")
	}
	if n, _ := st.CompletedReviewCount(ctx, "sub-a"); n != 1 {
		t.Fatalf("completed count = %d, want 1", n)
	}
	w, _, _ := st.GetWorkflow(ctx, "sub-a")
	if w.CompletedAt == nil {
		t.Fatal("must_grade met: completed_at should be stamped in the same transaction")
	}

	// Submitting against the closed lease fails and leaves no extra rows.
	_, err = st.SubmitAssessment(ctx, peer.SubmitParams{
		ReviewerSubmissionUUID: "sub-a", ItemID: item.ID,
		Assessment: peer.Assessment{ID: uuid.NewString(), ScorerID: "alice", SubmissionUUID: "sub-b", ScoreType: peer.ScoreTypePeer, ScoredAt: a.ScoredAt, RubricHash: "h"},
		MustGrade:  1, MustBeGradedBy: 1, Now: a.ScoredAt,
	})
	if err == nil {
		t.Fatal("expected error submitting on a closed lease")
	}
	if n, _ := st.CompletedReviewCount(ctx, "sub-a"); n != 1 {
		t.Fatalf("completed count changed after rolled-back submit: %d", n)
	}
}

func TestSQLStoreScoredSelectionOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedWorkflow(t, st, "sub-s", "sam", base)
	seedWorkflow(t, st, "sub-1", "r1", base.Add(time.Minute))
	seedWorkflow(t, st, "sub-2", "r2", base.Add(2*time.Minute))
	seedWorkflow(t, st, "sub-3", "r3", base.Add(3*time.Minute))

	req := peer.Requirements{MustGrade: 10, MustBeGradedBy: 2}
	a1 := submitOn(t, st, "sub-1", "sub-s", base.Add(10*time.Minute), req)
	a2 := submitOn(t, st, "sub-2", "sub-s", base.Add(11*time.Minute), req)
	a3 := submitOn(t, st, "sub-3", "sub-s", base.Add(12*time.Minute), req)

	scored, err := st.ScoredAssessments(ctx, "sub-s")
	if err != nil {
		t.Fatalf("scored assessments: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored assessments, got %d", len(scored))
	}
	if scored[0].ID != a1.ID || scored[1].ID != a2.ID {
		t.Fatalf("scored selection must be the earliest two, got %s,%s", scored[0].ID, scored[1].ID)
	}
	if len(scored[0].Parts) != 2 {
		t.Fatalf("expected parts loaded, got %d", len(scored[0].Parts))
	}
	_ = a3

	st2, err := st.Stats(ctx, "sub-s")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st2.CompletedReviews != 3 || st2.ScoredReviews != 2 || st2.OpenLeases != 0 {
		t.Fatalf("unexpected stats: %+v", st2)
	}

	// EnsureScored is idempotent and never unmarks.
	if err := st.EnsureScored(ctx, "sub-s", 2); err != nil {
		t.Fatalf("ensure scored: %v", err)
	}
	scored, _ = st.ScoredAssessments(ctx, "sub-s")
	if len(scored) != 2 {
		t.Fatalf("re-running EnsureScored changed the scored set: %d", len(scored))
	}
}

func TestSQLStoreCandidatesAndCancellation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedWorkflow(t, st, "sub-a", "alice", base)
	seedWorkflow(t, st, "sub-b", "bob", base.Add(time.Minute))
	seedWorkflow(t, st, "sub-c", "carol", base.Add(2*time.Minute))

	req := peer.Requirements{MustGrade: 10, MustBeGradedBy: 2}
	submitOn(t, st, "sub-c", "sub-b", base.Add(5*time.Minute), req)

	cands, err := st.Candidates(ctx, "sub-a")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	byUUID := map[string]peer.Candidate{}
	for _, c := range cands {
		byUUID[c.SubmissionUUID] = c
	}
	if len(byUUID) != 2 {
		t.Fatalf("expected 2 candidates, got %v", cands)
	}
	if byUUID["sub-b"].QualifyingReviews != 1 || byUUID["sub-b"].TotalReviews != 1 {
		t.Fatalf("sub-b counts wrong: %+v", byUUID["sub-b"])
	}
	if byUUID["sub-c"].QualifyingReviews != 0 {
		t.Fatalf("sub-c counts wrong: %+v", byUUID["sub-c"])
	}

	// Cancelling carol drops her submission from the pool and her review
	// from qualifying counts, but not from totals.
	if err := st.SetCancelled(ctx, "sub-c", base.Add(6*time.Minute)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cands, _ = st.Candidates(ctx, "sub-a")
	if len(cands) != 1 || cands[0].SubmissionUUID != "sub-b" {
		t.Fatalf("expected only sub-b after cancellation, got %v", cands)
	}
	if cands[0].QualifyingReviews != 0 {
		t.Fatalf("cancelled reviewer's assessment still qualifies: %+v", cands[0])
	}
	if cands[0].TotalReviews != 1 {
		t.Fatalf("total reviews should keep historical rows: %+v", cands[0])
	}
	if n, _ := st.QualifyingReviewCount(ctx, "sub-b"); n != 0 {
		t.Fatalf("qualifying count = %d, want 0", n)
	}
}

func TestSQLStoreCompletionIsSticky(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seedWorkflow(t, st, "sub-a", "alice", base)

	if err := st.SetCompleted(ctx, "sub-a", base.Add(time.Hour)); err != nil {
		t.Fatalf("set completed: %v", err)
	}
	if err := st.SetCompleted(ctx, "sub-a", base.Add(2*time.Hour)); err != nil {
		t.Fatalf("set completed again: %v", err)
	}
	w, _, _ := st.GetWorkflow(ctx, "sub-a")
	if w.CompletedAt == nil || !w.CompletedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("completed_at must keep its first value, got %v", w.CompletedAt)
	}
}
