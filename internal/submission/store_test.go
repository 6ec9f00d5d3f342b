package submission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mind-engage/peergrade/internal/submission"
)

func seed(t *testing.T, st submission.Store, uuid, author, course, item string, at time.Time) {
	t.Helper()
	if err := st.Create(context.Background(), submission.Submission{
		UUID: uuid, AuthorID: author, CourseID: course, ItemID: item,
		Answer: "essay from " + author, SubmittedAt: at,
	}); err != nil {
		t.Fatalf("seed %s: %v", uuid, err)
	}
}

func TestGetUnknownSubmission(t *testing.T) {
	st := submission.NewInMemoryStore()
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, submission.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListOtherScopeAndOrder(t *testing.T) {
	st := submission.NewInMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seed(t, st, "sub-b", "bob", "c1", "i1", base.Add(2*time.Hour))
	seed(t, st, "sub-a", "alice", "c1", "i1", base)
	seed(t, st, "sub-c", "carol", "c1", "i1", base.Add(time.Hour))
	// Out of scope: the excluded author, another item, another course.
	seed(t, st, "sub-x", "xena", "c1", "i1", base)
	seed(t, st, "sub-d", "dave", "c1", "i2", base)
	seed(t, st, "sub-e", "erin", "c2", "i1", base)

	got, err := st.ListOther(context.Background(), "c1", "i1", "xena")
	if err != nil {
		t.Fatalf("ListOther: %v", err)
	}
	want := []string{"sub-a", "sub-c", "sub-b"}
	if len(got) != len(want) {
		t.Fatalf("got %d submissions, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.UUID != want[i] {
			t.Fatalf("position %d: got %s, want %s (submitted_at ascending)", i, s.UUID, want[i])
		}
	}
}
