package compiler

import (
	"regexp"
	"sort"
	"strings"
)

// LinkKind distinguishes the two embedded image syntaxes.
type LinkKind string

const (
	// LinkKindWiki is the ![[target]] form, optionally with a |alias suffix.
	LinkKindWiki LinkKind = "wiki"
	// LinkKindMarkdown is the standard ![alt](target) form.
	LinkKindMarkdown LinkKind = "markdown"
)

// ImageLinkMatch describes one embedded image reference.
type ImageLinkMatch struct {
	Raw    string
	Start  int
	End    int
	Line   int
	Kind   LinkKind
	Alt    string
	Target string
}

var imageLinkPattern = regexp.MustCompile(`!\[\[([^\]]+)\]\]|!\[([^\]]*)\]\(([^)]+)\)`)

func computeLineStarts(input string) []int {
	starts := []int{0}
	for i := 0; i < len(input); i++ {
		if input[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// offsetToLine maps a byte offset to its 1-based line number via binary
// search over the precomputed line start offsets.
func offsetToLine(offset int, lineStarts []int) int {
	return sort.Search(len(lineStarts), func(i int) bool {
		return lineStarts[i] > offset
	})
}

func normalizeWikiTarget(target string) string {
	withoutAlias, _, _ := strings.Cut(target, "|")
	return strings.TrimSpace(withoutAlias)
}

func normalizeMarkdownTarget(target string) string {
	trimmed := strings.TrimSpace(target)
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return trimmed[1 : len(trimmed)-1]
	}
	return trimmed
}

// FindImageLinks scans markdown for wiki-style and standard image links,
// returning non-overlapping matches in document order.
func FindImageLinks(markdown string) []ImageLinkMatch {
	lineStarts := computeLineStarts(markdown)

	var matches []ImageLinkMatch
	for _, span := range imageLinkPattern.FindAllStringSubmatchIndex(markdown, -1) {
		start, end := span[0], span[1]
		raw := markdown[start:end]
		line := offsetToLine(start, lineStarts)

		if span[2] >= 0 {
			matches = append(matches, ImageLinkMatch{
				Raw:    raw,
				Start:  start,
				End:    end,
				Line:   line,
				Kind:   LinkKindWiki,
				Alt:    "",
				Target: normalizeWikiTarget(markdown[span[2]:span[3]]),
			})
			continue
		}

		matches = append(matches, ImageLinkMatch{
			Raw:    raw,
			Start:  start,
			End:    end,
			Line:   line,
			Kind:   LinkKindMarkdown,
			Alt:    markdown[span[4]:span[5]],
			Target: normalizeMarkdownTarget(markdown[span[6]:span[7]]),
		})
	}

	return matches
}
