package legitimacy

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Normalize upper-cases and trims a payee name. Registry keys are stored in
// this form.
func Normalize(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// tokens lower-cases s, treats every non-alphanumeric rune as a separator
// and returns the distinct tokens.
func tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func sortedJoin(set map[string]struct{}) string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// Ratio is the 0-100 edit similarity of two strings.
func Ratio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

// TokenSetRatio compares the shared tokens of a and b against each side's
// full token set and returns the best 0-100 score. A name whose tokens are a
// subset of the other's scores 100.
func TokenSetRatio(a, b string) int {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := make(map[string]struct{})
	onlyA := make(map[string]struct{})
	onlyB := make(map[string]struct{})
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared[t] = struct{}{}
		} else {
			onlyA[t] = struct{}{}
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB[t] = struct{}{}
		}
	}

	sect := sortedJoin(shared)
	combinedA := strings.TrimSpace(sect + " " + sortedJoin(onlyA))
	combinedB := strings.TrimSpace(sect + " " + sortedJoin(onlyB))

	return max(
		Ratio(sect, combinedA),
		Ratio(sect, combinedB),
		Ratio(combinedA, combinedB),
	)
}
