package rating

import (
	"strings"

	"freightaudit/internal/ratecard"
)

// MatchKind records how a requested cost name was found in a catalog.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchBaseName
	MatchPrefix
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchBaseName:
		return "base name"
	case MatchPrefix:
		return "prefix"
	default:
		return "none"
	}
}

// Preference picks between several cost entries of similar names.
type Preference string

const (
	PreferLongest  Preference = "longest"
	PreferShortest Preference = "shortest"
)

// TieBreak decides between several matching cost entries. Satisfied
// applies when more than one entry's applies_if holds, Unsatisfied when
// none holds.
type TieBreak struct {
	Satisfied   Preference `mapstructure:"satisfied"`
	Unsatisfied Preference `mapstructure:"unsatisfied"`
}

func DefaultTieBreak() TieBreak {
	return TieBreak{Satisfied: PreferLongest, Unsatisfied: PreferShortest}
}

// findNames returns the indices of names matching want, trying exact,
// then base-name, then prefix in either direction. The first stage with
// any hit wins.
func findNames(want string, names []string) ([]int, MatchKind) {
	w := ratecard.Normalize(want)
	if w == "" {
		return nil, MatchNone
	}

	var hits []int
	for i, n := range names {
		if ratecard.Normalize(n) == w {
			hits = append(hits, i)
		}
	}
	if len(hits) > 0 {
		return hits, MatchExact
	}

	wb := ratecard.Normalize(ratecard.BaseName(want))
	for i, n := range names {
		if ratecard.Normalize(ratecard.BaseName(n)) == wb {
			hits = append(hits, i)
		}
	}
	if len(hits) > 0 {
		return hits, MatchBaseName
	}

	for i, n := range names {
		nn := ratecard.Normalize(n)
		if nn == "" {
			continue
		}
		if strings.HasPrefix(nn, w) || strings.HasPrefix(w, nn) {
			hits = append(hits, i)
		}
	}
	if len(hits) > 0 {
		return hits, MatchPrefix
	}
	return nil, MatchNone
}

// pick chooses one index among candidates by name length. Earlier
// candidates win ties, so callers order them by precedence.
func pick(candidates []int, names []string, pref Preference) int {
	best := candidates[0]
	for _, c := range candidates[1:] {
		lc, lb := len(names[c]), len(names[best])
		if pref == PreferShortest && lc < lb || pref != PreferShortest && lc > lb {
			best = c
		}
	}
	return best
}

func costNames(defs []ratecard.CostDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

func accessorialNames(costs []ratecard.AccessorialCost) []string {
	out := make([]string, len(costs))
	for i, c := range costs {
		out[i] = c.Name
	}
	return out
}
