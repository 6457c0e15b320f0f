package matching

import (
	"cmp"
	"slices"

	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/domain/testrun"
)

// Type tags how a match was corroborated.
type Type string

const (
	TypeBranchExact  Type = "branch_exact"
	TypeBranchPrefix Type = "branch_prefix"
	TypeTitleOnly    Type = "title_only"
)

// Thresholds tunes acceptance of candidate pairings. Branch correlation lets
// a weaker title similarity through; title-only pairings must be stricter.
type Thresholds struct {
	Branch      int
	TitleOnly   int
	ExactBoost  int
	PrefixBoost int
}

// DefaultThresholds returns the production tuning. Configuration defaults
// are built from it.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Branch:      85,
		TitleOnly:   90,
		ExactBoost:  15,
		PrefixBoost: 5,
	}
}

// Match is the transient pairing of one item with one run result. It is
// never persisted.
type Match struct {
	GroupID     string
	OwnerID     string
	Item        taskgroup.Item
	ResultID    string
	ResultTitle string
	Outcome     testrun.Outcome
	Type        Type
	Similarity  int
	Confidence  int
}

// Resolver evaluates task group items against run results.
type Resolver struct {
	th Thresholds
}

// NewResolver creates a Resolver with the given thresholds.
func NewResolver(th Thresholds) *Resolver {
	return &Resolver{th: th}
}

// Eligible reports whether a group belongs to the candidate population of a
// run: same team, ACTIVE, and for CI runs declaring an application, the
// same application.
func Eligible(run *testrun.Run, g *taskgroup.TaskGroup) bool {
	if g.TeamID != run.TeamID || g.Status != taskgroup.StatusActive {
		return false
	}
	if !run.Source.IsLocal() && run.ApplicationID != "" {
		return g.ApplicationID == run.ApplicationID
	}
	return true
}

// Resolve returns at most one match per item. Groups are visited by id,
// items by id and results in run order; on equal confidence the first
// evaluated result wins. Unfinished runs yield no matches.
func (r *Resolver) Resolve(run *testrun.Run, groups []taskgroup.TaskGroup) []Match {
	if !run.Finished() {
		return nil
	}
	results := run.QualifyingResults()
	if len(results) == 0 {
		return nil
	}

	ordered := slices.Clone(groups)
	slices.SortStableFunc(ordered, func(a, b taskgroup.TaskGroup) int { return cmp.Compare(a.ID, b.ID) })

	var matches []Match
	for gi := range ordered {
		g := &ordered[gi]
		if !Eligible(run, g) {
			continue
		}
		rel := RelateBranches(g.Branch, run.Branch)

		items := slices.Clone(g.Items)
		slices.SortStableFunc(items, func(a, b taskgroup.Item) int { return cmp.Compare(a.ID, b.ID) })

		for _, it := range items {
			m, ok := r.best(it, results, rel)
			if !ok {
				continue
			}
			m.GroupID = g.ID
			m.OwnerID = g.OwnerID
			matches = append(matches, m)
		}
	}
	return matches
}

// best picks the highest-confidence result clearing its threshold.
func (r *Resolver) best(it taskgroup.Item, results []testrun.Result, rel BranchRelation) (Match, bool) {
	var (
		best  Match
		found bool
	)
	if it.TestCaseTitle == "" {
		return best, false
	}
	for _, res := range results {
		if res.TestTitle == "" {
			continue
		}
		sim := Similarity(it.TestCaseTitle, res.TestTitle)
		conf, typ, ok := r.Score(sim, rel)
		if !ok {
			continue
		}
		if found && conf <= best.Confidence {
			continue
		}
		best = Match{
			Item:        it,
			ResultID:    res.ID,
			ResultTitle: res.TestTitle,
			Outcome:     res.Outcome,
			Type:        typ,
			Similarity:  sim,
			Confidence:  conf,
		}
		found = true
	}
	return best, found
}

// Score applies the threshold and boost for a branch relation to a raw
// similarity. ok is false when the similarity does not clear the threshold.
func (r *Resolver) Score(similarity int, rel BranchRelation) (confidence int, typ Type, ok bool) {
	switch rel {
	case BranchExact:
		if similarity < r.th.Branch {
			return 0, "", false
		}
		return min(similarity+r.th.ExactBoost, 100), TypeBranchExact, true
	case BranchPrefix:
		if similarity < r.th.Branch {
			return 0, "", false
		}
		return min(similarity+r.th.PrefixBoost, 100), TypeBranchPrefix, true
	default:
		if similarity < r.th.TitleOnly {
			return 0, "", false
		}
		return similarity, TypeTitleOnly, true
	}
}
