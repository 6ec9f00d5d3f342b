// Package scoring aggregates the option choices of qualifying assessments
// into a per-criterion median score. The aggregate must not depend on the
// order assessments arrive in; storage materializes them arbitrarily.
package scoring

import (
	"sort"

	"github.com/mind-engage/peergrade/internal/rubric"
)

// Median returns the median of the given point values with a ceiling
// tie-break on even counts: sort ascending, odd count takes the middle,
// even count takes ceil of the mean of the two middle values. An empty
// input yields 0 — callers guard against scoring with zero assessments.
func Median(points []int) int {
	if len(points) == 0 {
		return 0
	}
	vals := make([]int, len(points))
	copy(vals, points)
	sort.Ints(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	sum := vals[n/2-1] + vals[n/2]
	return (sum + 1) / 2 // integer ceil of sum/2
}

// MedianScores computes the median per criterion across assessments. Each
// assessment is the map of criterion name to the points of the option the
// reviewer chose.
func MedianScores(assessments []map[string]int) map[string]int {
	byCriterion := map[string][]int{}
	for _, a := range assessments {
		for name, pts := range a {
			byCriterion[name] = append(byCriterion[name], pts)
		}
	}
	medians := make(map[string]int, len(byCriterion))
	for name, pts := range byCriterion {
		medians[name] = Median(pts)
	}
	return medians
}

// TotalEarned sums the per-criterion medians.
func TotalEarned(medians map[string]int) int {
	total := 0
	for _, v := range medians {
		total += v
	}
	return total
}

// TotalPossible sums each criterion's highest option value. Feedback-only
// criteria contribute nothing.
func TotalPossible(r rubric.Rubric) int {
	total := 0
	for _, c := range r.Criteria {
		max := 0
		for _, o := range c.Options {
			if o.Points > max {
				max = o.Points
			}
		}
		total += max
	}
	return total
}
