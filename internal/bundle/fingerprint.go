package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var markdownImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// NormalizeContent canonicalizes card markdown for fingerprinting: image
// URLs collapse to a constant so re-uploaded assets do not change identity,
// line endings normalize to \n, and trailing whitespace is stripped.
func NormalizeContent(markdown string) string {
	normalized := markdownImagePattern.ReplaceAllString(markdown, "![$1](image)")
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Fingerprint derives a card's content identity from both sides. Equal
// fingerprints mean the importer treats the cards as the same card.
func Fingerprint(front, back string) string {
	payload := NormalizeContent(front) + "\n---\n" + NormalizeContent(back)
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}
