package compiler

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// clozePattern matches {{cN::answer}} and {{cN::answer::hint}} markers.
var clozePattern = regexp.MustCompile(`\{\{c(\d+)::([^:}]+?)(?:::([^}]+?))?\}\}`)

// ClozeMatch is one cloze marker occurrence.
type ClozeMatch struct {
	FullMatch string
	Index     int
	Answer    string
	Hint      string
}

// ParseClozeMarkers returns every cloze marker in document order.
func ParseClozeMarkers(text string) []ClozeMatch {
	var matches []ClozeMatch
	for _, groups := range clozePattern.FindAllStringSubmatch(text, -1) {
		index, err := strconv.Atoi(groups[1])
		if err != nil {
			continue
		}
		matches = append(matches, ClozeMatch{
			FullMatch: groups[0],
			Index:     index,
			Answer:    groups[2],
			Hint:      groups[3],
		})
	}
	return matches
}

// ClozeIndices returns the distinct cloze indices in the text, ascending.
func ClozeIndices(text string) []int {
	seen := make(map[int]bool)
	var indices []int
	for _, match := range ParseClozeMarkers(text) {
		if !seen[match.Index] {
			seen[match.Index] = true
			indices = append(indices, match.Index)
		}
	}
	sort.Ints(indices)
	return indices
}

// ExpandCloze renders the text for one active index. The hidden form
// replaces active markers with "[...]" (or "[hint: h]" when hinted) and
// strips inactive markers to their answer. The revealed form bolds the
// active answers and shows inactive answers literally.
func ExpandCloze(text string, activeIndex int) (hidden, revealed string) {
	hidden = replaceClozeMarkers(text, func(match ClozeMatch) string {
		if match.Index == activeIndex {
			if match.Hint != "" {
				return "[hint: " + match.Hint + "]"
			}
			return "[...]"
		}
		return match.Answer
	})

	revealed = replaceClozeMarkers(text, func(match ClozeMatch) string {
		if match.Index == activeIndex {
			return "**" + match.Answer + "**"
		}
		return match.Answer
	})

	return hidden, revealed
}

func replaceClozeMarkers(text string, replace func(ClozeMatch) string) string {
	spans := clozePattern.FindAllStringSubmatchIndex(text, -1)
	if len(spans) == 0 {
		return text
	}

	var builder strings.Builder
	cursor := 0
	for _, span := range spans {
		builder.WriteString(text[cursor:span[0]])

		index, err := strconv.Atoi(text[span[2]:span[3]])
		if err != nil {
			builder.WriteString(text[span[0]:span[1]])
			cursor = span[1]
			continue
		}

		match := ClozeMatch{
			FullMatch: text[span[0]:span[1]],
			Index:     index,
			Answer:    text[span[4]:span[5]],
		}
		if span[6] >= 0 {
			match.Hint = text[span[6]:span[7]]
		}

		builder.WriteString(replace(match))
		cursor = span[1]
	}
	builder.WriteString(text[cursor:])
	return builder.String()
}
