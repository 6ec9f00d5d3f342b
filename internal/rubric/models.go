package rubric

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
)

// Option is one selectable answer for a criterion.
type Option struct {
	Name        string `json:"name"`
	Points      int    `json:"points"`
	OrderNum    int    `json:"order_num"`
	Explanation string `json:"explanation,omitempty"`
}

// Criterion carries an ordered list of options. A criterion with zero
// options is feedback-only: it accepts free text and always scores 0.
type Criterion struct {
	Name     string   `json:"name"`
	Prompt   string   `json:"prompt,omitempty"`
	OrderNum int      `json:"order_num"`
	Options  []Option `json:"options"`
}

// Rubric is immutable once built. A changed rubric is a new Rubric with a
// new content hash, never an edit in place.
type Rubric struct {
	Criteria []Criterion `json:"criteria"`
}

// New validates the structural input and returns a Rubric. Criterion names
// must be unique across the rubric, option names unique within their
// criterion, and points non-negative.
func New(criteria []Criterion) (Rubric, error) {
	if len(criteria) == 0 {
		return Rubric{}, fmt.Errorf("rubric has no criteria")
	}
	seen := map[string]bool{}
	for _, c := range criteria {
		if c.Name == "" {
			return Rubric{}, fmt.Errorf("criterion with empty name")
		}
		if seen[c.Name] {
			return Rubric{}, fmt.Errorf("duplicate criterion %q", c.Name)
		}
		seen[c.Name] = true
		optSeen := map[string]bool{}
		for _, o := range c.Options {
			if optSeen[o.Name] {
				return Rubric{}, fmt.Errorf("criterion %q: duplicate option %q", c.Name, o.Name)
			}
			optSeen[o.Name] = true
			if o.Points < 0 {
				return Rubric{}, fmt.Errorf("criterion %q option %q: negative points", c.Name, o.Name)
			}
		}
	}
	return Rubric{Criteria: criteria}, nil
}

// ContentHash covers the full structure and prose. It is the cache and
// storage key for the rubric.
func (r Rubric) ContentHash() string {
	h := sha256.New()
	for _, c := range r.Criteria {
		writeField(h, c.Name)
		writeField(h, c.Prompt)
		writeField(h, strconv.Itoa(c.OrderNum))
		for _, o := range c.Options {
			writeField(h, o.Name)
			writeField(h, strconv.Itoa(o.Points))
			writeField(h, strconv.Itoa(o.OrderNum))
			writeField(h, o.Explanation)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StructureHash ignores prose (prompts and explanations), so two rubrics
// that differ only in wording hash the same. Used to detect compatible
// edits.
func (r Rubric) StructureHash() string {
	h := sha256.New()
	for _, c := range r.Criteria {
		writeField(h, c.Name)
		writeField(h, strconv.Itoa(c.OrderNum))
		for _, o := range c.Options {
			writeField(h, o.Name)
			writeField(h, strconv.Itoa(o.Points))
			writeField(h, strconv.Itoa(o.OrderNum))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Length-prefixed so that field boundaries cannot collide.
func writeField(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s", len(s), s)
}
