package marker

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"emc/internal/allocator"
	"emc/internal/execconfig"
)

// Comparator maps (memo lines, student lines, pattern) to a subsection
// result. Implementations are pure: the same inputs always yield the
// same result. possible is the subsection value throughout.
type Comparator interface {
	Compare(sub *allocator.Subsection, memoLines, studentLines []string, pattern string) SubsectionResult
}

// ForScheme selects the comparator for the active marking scheme. The
// set is closed; schemes are validated upstream.
func ForScheme(scheme execconfig.MarkingScheme) Comparator {
	switch scheme {
	case execconfig.SchemePercentage:
		return percentageComparator{}
	case execconfig.SchemeRegex:
		return regexComparator{}
	default:
		return exactComparator{}
	}
}

func possibleOf(sub *allocator.Subsection) int {
	return int(math.Round(sub.Value))
}

// countContaining counts the lines that contain pattern as a substring.
// Comparisons are byte-for-byte; no case folding.
func countContaining(lines []string, pattern string) int {
	n := 0
	for _, line := range lines {
		if strings.Contains(line, pattern) {
			n++
		}
	}
	return n
}

// exactComparator awards all or nothing: full marks iff the pattern
// occurs in the memo and at least as often in the student output.
type exactComparator struct{}

func (exactComparator) Compare(sub *allocator.Subsection, memoLines, studentLines []string, pattern string) SubsectionResult {
	res := SubsectionResult{
		Name:            sub.Name,
		Possible:        possibleOf(sub),
		MatchedPatterns: []string{},
		MissedPatterns:  []string{},
	}
	if pattern == "" {
		res.MissedPatterns = append(res.MissedPatterns, pattern)
		return res
	}
	m := countContaining(memoLines, pattern)
	s := countContaining(studentLines, pattern)
	if m > 0 && s >= m {
		res.Awarded = res.Possible
		res.MatchedPatterns = append(res.MatchedPatterns, pattern)
	} else {
		res.MissedPatterns = append(res.MissedPatterns, pattern)
	}
	return res
}

// percentageComparator awards marks proportionally to how closely the
// student's occurrence count tracks the memo's.
type percentageComparator struct{}

func (percentageComparator) Compare(sub *allocator.Subsection, memoLines, studentLines []string, pattern string) SubsectionResult {
	res := SubsectionResult{
		Name:            sub.Name,
		Possible:        possibleOf(sub),
		MatchedPatterns: []string{},
		MissedPatterns:  []string{},
	}
	if pattern == "" {
		res.MissedPatterns = append(res.MissedPatterns, pattern)
		return res
	}
	m := countContaining(memoLines, pattern)
	s := countContaining(studentLines, pattern)
	res.Awarded = percentageAward(res.Possible, m, s)
	if m > 0 && s > 0 {
		res.MatchedPatterns = append(res.MatchedPatterns, pattern)
	}
	if s < m || (m == 0 && s > 0) {
		res.MissedPatterns = append(res.MissedPatterns, pattern)
	}
	return res
}

// percentageAward implements the shared proportional rule: a memo count
// of zero demands a student count of zero for full marks; otherwise the
// award scales with min(s,m)/max(s,m).
func percentageAward(possible, m, s int) int {
	if m == 0 {
		if s == 0 {
			return possible
		}
		return 0
	}
	lo, hi := m, s
	if s < m {
		lo, hi = s, m
	}
	ratio := float64(lo) / float64(hi)
	return int(math.Round(float64(possible) * ratio))
}

// regexComparator scores a vector of regex patterns, one mark each,
// counting occurrences per line and per match within the line.
type regexComparator struct{}

func (regexComparator) Compare(sub *allocator.Subsection, memoLines, studentLines []string, _ string) SubsectionResult {
	res := SubsectionResult{
		Name:            sub.Name,
		Possible:        possibleOf(sub),
		MatchedPatterns: []string{},
		MissedPatterns:  []string{},
	}
	if sub.Regex == nil {
		res.MissedPatterns = append(res.MissedPatterns, "")
		return res
	}
	awarded := 0
	for _, pattern := range *sub.Regex {
		if pattern == "" {
			res.MissedPatterns = append(res.MissedPatterns, pattern)
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			res.MissedPatterns = append(res.MissedPatterns, fmt.Sprintf("%s (invalid)", pattern))
			continue
		}
		m := countOccurrences(memoLines, re)
		s := countOccurrences(studentLines, re)
		award := percentageAward(1, m, s)
		awarded += award
		if m > 0 && s > 0 {
			res.MatchedPatterns = append(res.MatchedPatterns, pattern)
		}
		if s < m || (m == 0 && s > 0) {
			res.MissedPatterns = append(res.MissedPatterns, pattern)
		}
	}
	if awarded > res.Possible {
		awarded = res.Possible
	}
	res.Awarded = awarded
	return res
}

func countOccurrences(lines []string, re *regexp.Regexp) int {
	n := 0
	for _, line := range lines {
		n += len(re.FindAllStringIndex(line, -1))
	}
	return n
}
