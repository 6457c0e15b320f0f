// Package matching pairs the results of a finished test run with the items
// of active task groups using title similarity and branch correlation.
package matching

import (
	"math"
	"strings"
)

// Similarity returns a 0..100 closeness score of two titles using the Dice
// coefficient over character bigrams. Titles are case-folded and trimmed;
// identical titles score 100 and titles shorter than two characters score 0.
func Similarity(a, b string) int {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 100
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	bigrams := make(map[[2]rune]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		bigrams[[2]rune{ra[i], ra[i+1]}]++
	}

	matches := 0
	for i := 0; i < len(rb)-1; i++ {
		bg := [2]rune{rb[i], rb[i+1]}
		if bigrams[bg] > 0 {
			bigrams[bg]--
			matches++
		}
	}

	total := (len(ra) - 1) + (len(rb) - 1)
	return int(math.Round(2 * float64(matches) / float64(total) * 100))
}

// BranchRelation classifies how a task group branch relates to a run branch.
type BranchRelation string

const (
	BranchNone   BranchRelation = "none"
	BranchExact  BranchRelation = "exact"
	BranchPrefix BranchRelation = "prefix"
)

// RelateBranches compares a task group branch with a run branch. Either
// branch being empty yields BranchNone; otherwise equality is exact and one
// being a prefix of the other is a prefix relation.
func RelateBranches(taskBranch, runBranch string) BranchRelation {
	switch {
	case taskBranch == "" || runBranch == "":
		return BranchNone
	case taskBranch == runBranch:
		return BranchExact
	case strings.HasPrefix(taskBranch, runBranch), strings.HasPrefix(runBranch, taskBranch):
		return BranchPrefix
	default:
		return BranchNone
	}
}
