package rubric

import "fmt"

// ErrInvalidSelection reports a lookup against a criterion or option the
// rubric does not define.
type ErrInvalidSelection struct {
	Criterion string
	Detail    string
}

func (e *ErrInvalidSelection) Error() string {
	return fmt.Sprintf("invalid selection for criterion %q: %s", e.Criterion, e.Detail)
}

// Index is an immutable lookup over one rubric: (criterion, option name) to
// option and (criterion, points) to option. Build once per content hash and
// share freely; it is safe for concurrent use.
type Index struct {
	rubric      Rubric
	byName      map[string]map[string]Option
	byPoints    map[string]map[int]Option
	criteria    map[string]Criterion
	scoredNames []string // criteria with at least one option, rubric order
}

// NewIndex builds the lookup maps. When two options in one criterion carry
// the same point value, the one with the lowest order number wins the
// points lookup. Training-example replay depends on that exact tie-break.
func NewIndex(r Rubric) *Index {
	idx := &Index{
		rubric:   r,
		byName:   map[string]map[string]Option{},
		byPoints: map[string]map[int]Option{},
		criteria: map[string]Criterion{},
	}
	for _, c := range r.Criteria {
		idx.criteria[c.Name] = c
		names := map[string]Option{}
		points := map[int]Option{}
		for _, o := range c.Options {
			names[o.Name] = o
			if prev, ok := points[o.Points]; !ok || o.OrderNum < prev.OrderNum {
				points[o.Points] = o
			}
		}
		idx.byName[c.Name] = names
		idx.byPoints[c.Name] = points
		if len(c.Options) > 0 {
			idx.scoredNames = append(idx.scoredNames, c.Name)
		}
	}
	return idx
}

func (idx *Index) Rubric() Rubric { return idx.rubric }

// FindOption resolves an option by name within a criterion.
func (idx *Index) FindOption(criterionName, optionName string) (Option, error) {
	opts, ok := idx.byName[criterionName]
	if !ok {
		return Option{}, &ErrInvalidSelection{Criterion: criterionName, Detail: "unknown criterion"}
	}
	o, ok := opts[optionName]
	if !ok {
		return Option{}, &ErrInvalidSelection{Criterion: criterionName, Detail: fmt.Sprintf("unknown option %q", optionName)}
	}
	return o, nil
}

// FindOptionForPoints resolves an option by point value within a criterion.
func (idx *Index) FindOptionForPoints(criterionName string, points int) (Option, error) {
	opts, ok := idx.byPoints[criterionName]
	if !ok {
		return Option{}, &ErrInvalidSelection{Criterion: criterionName, Detail: "unknown criterion"}
	}
	o, ok := opts[points]
	if !ok {
		return Option{}, &ErrInvalidSelection{Criterion: criterionName, Detail: fmt.Sprintf("no option worth %d points", points)}
	}
	return o, nil
}

// Criterion returns the criterion definition by name.
func (idx *Index) Criterion(name string) (Criterion, bool) {
	c, ok := idx.criteria[name]
	return c, ok
}

// MissingCriteria reports every criterion that has options but no entry in
// the selected set. Feedback-only criteria are never required.
func (idx *Index) MissingCriteria(selected map[string]string) []string {
	var missing []string
	for _, name := range idx.scoredNames {
		if _, ok := selected[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
