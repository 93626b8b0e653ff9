package vault

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/spaced/internal/compiler"
)

var externalPattern = regexp.MustCompile(`(?i)^(https?://|data:)`)

// IsExternal reports whether a link target points outside the vault and
// should pass through untouched.
func IsExternal(target string) bool {
	return externalPattern.MatchString(target)
}

// Resolved is the outcome of resolving one image link target.
type Resolved struct {
	// External is set for http(s) and data: targets; Original carries the
	// untouched target text.
	External bool
	Original string

	// AbsolutePath is the resolved local file for non-external targets.
	AbsolutePath string
}

// ResolveError is a coded resolution failure, carrying the diagnostic code
// the compiler reports for it.
type ResolveError struct {
	Code    compiler.DiagnosticCode
	Message string
}

func (e *ResolveError) Error() string {
	return e.Message
}

// Resolve maps a link target from the given source file to a vault file.
// Candidate paths are tried in order: relative to the source file (or to the
// vault root for absolute markdown targets), inside the attachment folder,
// and relative to the vault root when the target carries a path separator.
// When no candidate exists, a unique case-insensitive basename match wins;
// multiple matches are an ambiguity error.
func (c *Context) Resolve(sourceFile, target string, kind compiler.LinkKind) (Resolved, error) {
	if IsExternal(target) {
		return Resolved{External: true, Original: target}, nil
	}

	normalized := strings.TrimSpace(target)
	if decoded, err := url.PathUnescape(normalized); err == nil {
		normalized = decoded
	}
	sourceDir := filepath.Dir(sourceFile)
	hasSeparator := strings.ContainsAny(normalized, `/\`)

	var candidates []string
	if kind == compiler.LinkKindMarkdown && strings.HasPrefix(normalized, "/") {
		candidates = append(candidates, filepath.Join(c.Root, strings.TrimPrefix(normalized, "/")))
	} else {
		candidates = append(candidates, filepath.Join(sourceDir, normalized))
	}
	if c.AttachmentFolder != "" {
		candidates = append(candidates, filepath.Join(c.Root, c.AttachmentFolder, normalized))
	}
	if hasSeparator {
		candidates = append(candidates, filepath.Join(c.Root, normalized))
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = filepath.Clean(candidate)
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return Resolved{AbsolutePath: candidate}, nil
		}
	}

	basename := strings.ToLower(filepath.Base(normalized))
	matches := c.basenameIndex[basename]
	switch len(matches) {
	case 0:
		return Resolved{}, &ResolveError{
			Code:    compiler.CodeAssetNotFound,
			Message: fmt.Sprintf("Could not resolve image link: %s", target),
		}
	case 1:
		return Resolved{AbsolutePath: matches[0]}, nil
	default:
		relative := make([]string, 0, len(matches))
		for _, match := range matches {
			rel, err := filepath.Rel(c.Root, match)
			if err != nil {
				rel = match
			}
			relative = append(relative, filepath.ToSlash(rel))
		}
		sort.Strings(relative)
		return Resolved{}, &ResolveError{
			Code:    compiler.CodeAmbiguousWikiLink,
			Message: fmt.Sprintf("Multiple files matched %s: %s", target, strings.Join(relative, ", ")),
		}
	}
}
