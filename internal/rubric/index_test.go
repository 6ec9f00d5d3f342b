package rubric_test

import (
	"testing"

	"github.com/mind-engage/peergrade/internal/rubric"
)

func sampleRubric(t *testing.T) rubric.Rubric {
	t.Helper()
	r, err := rubric.New([]rubric.Criterion{
		{
			Name: "Ideas", Prompt: "How strong are the ideas?", OrderNum: 0,
			Options: []rubric.Option{
				{Name: "Poor", Points: 0, OrderNum: 0},
				{Name: "Fair", Points: 2, OrderNum: 1},
				{Name: "Good", Points: 4, OrderNum: 2},
			},
		},
		{
			Name: "Content", Prompt: "Is the content accurate?", OrderNum: 1,
			Options: []rubric.Option{
				{Name: "Weak", Points: 1, OrderNum: 0},
				{Name: "Strong", Points: 3, OrderNum: 1},
			},
		},
		{
			// feedback-only
			Name: "Comments", Prompt: "Anything else?", OrderNum: 2,
		},
	})
	if err != nil {
		t.Fatalf("rubric.New: %v", err)
	}
	return r
}

func TestFindOption(t *testing.T) {
	idx := rubric.NewIndex(sampleRubric(t))

	o, err := idx.FindOption("Ideas", "Good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Points != 4 {
		t.Fatalf("expected 4 points, got %d", o.Points)
	}

	if _, err := idx.FindOption("Ideas", "Excellent"); err == nil {
		t.Fatalf("expected error for unknown option")
	}
	if _, err := idx.FindOption("Nope", "Good"); err == nil {
		t.Fatalf("expected error for unknown criterion")
	}
}

func TestFindOptionForPointsTieBreak(t *testing.T) {
	r, err := rubric.New([]rubric.Criterion{{
		Name: "Ideas",
		Options: []rubric.Option{
			{Name: "A", Points: 2, OrderNum: 0},
			{Name: "B", Points: 2, OrderNum: 1},
		},
	}})
	if err != nil {
		t.Fatalf("rubric.New: %v", err)
	}
	idx := rubric.NewIndex(r)
	o, err := idx.FindOptionForPoints("Ideas", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Lowest order number wins on equal points.
	if o.Name != "A" {
		t.Fatalf("expected option A, got %q", o.Name)
	}
}

func TestMissingCriteria(t *testing.T) {
	idx := rubric.NewIndex(sampleRubric(t))

	missing := idx.MissingCriteria(map[string]string{"Ideas": "Good"})
	if len(missing) != 1 || missing[0] != "Content" {
		t.Fatalf("expected [Content], got %v", missing)
	}

	// Feedback-only criteria are never required.
	missing = idx.MissingCriteria(map[string]string{"Ideas": "Good", "Content": "Strong"})
	if len(missing) != 0 {
		t.Fatalf("expected no missing criteria, got %v", missing)
	}
}

func TestHashes(t *testing.T) {
	r1 := sampleRubric(t)
	r2 := sampleRubric(t)
	if r1.ContentHash() != r2.ContentHash() {
		t.Fatalf("identical rubrics must share a content hash")
	}

	// Changing prose changes content hash but not structure hash.
	crit := make([]rubric.Criterion, len(r1.Criteria))
	copy(crit, r1.Criteria)
	crit[0].Prompt = "Reworded prompt"
	r3, err := rubric.New(crit)
	if err != nil {
		t.Fatalf("rubric.New: %v", err)
	}
	if r1.ContentHash() == r3.ContentHash() {
		t.Fatalf("prose change must change the content hash")
	}
	if r1.StructureHash() != r3.StructureHash() {
		t.Fatalf("prose change must not change the structure hash")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		criteria []rubric.Criterion
	}{
		{"empty", nil},
		{"dup criterion", []rubric.Criterion{{Name: "A"}, {Name: "A"}}},
		{"dup option", []rubric.Criterion{{Name: "A", Options: []rubric.Option{{Name: "x"}, {Name: "x"}}}}},
		{"negative points", []rubric.Criterion{{Name: "A", Options: []rubric.Option{{Name: "x", Points: -1}}}}},
	}
	for _, tc := range cases {
		if _, err := rubric.New(tc.criteria); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCacheReusesIndex(t *testing.T) {
	c := rubric.NewCache(4)
	r := sampleRubric(t)
	a := c.Get(r)
	b := c.Get(r)
	if a != b {
		t.Fatalf("expected the same index instance for the same content hash")
	}
}
