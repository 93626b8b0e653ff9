package bundle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/MarcoPoloResearchLab/spaced/internal/archive"
)

// Parsed is a decoded and validated bundle.
type Parsed struct {
	Manifest Manifest
	Entries  map[string][]byte
}

// Parse reads a bundle archive, decodes its manifest and validates it.
// A bundle without a manifest, with malformed JSON or with a manifest that
// fails schema validation is rejected whole.
func Parse(data []byte) (Parsed, error) {
	entries, err := archive.Read(data)
	if err != nil {
		return Parsed{}, fmt.Errorf("read bundle archive: %w", err)
	}

	byName := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		byName[entry.Name] = entry.Data
	}

	manifestBytes, ok := byName["manifest.json"]
	if !ok {
		return Parsed{}, fmt.Errorf("%w: manifest.json not found", ErrInvalidManifest)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return Parsed{}, fmt.Errorf("%w: manifest.json is not valid JSON", ErrInvalidManifest)
	}
	if err := manifest.Validate(); err != nil {
		return Parsed{}, err
	}
	return Parsed{Manifest: manifest, Entries: byName}, nil
}

// AssetBytes returns the archive entry backing one card asset.
func (p Parsed) AssetBytes(card Card, assetFile string) ([]byte, error) {
	data, ok := p.Entries[assetFile]
	if !ok {
		return nil, fmt.Errorf("bundle asset missing for %s:%d (%s)",
			card.Source.File, card.Source.LineStart, assetFile)
	}
	return data, nil
}

// MimeType guesses an image content type from an asset file name.
func MimeType(fileName string) string {
	lowered := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lowered, ".png"):
		return "image/png"
	case strings.HasSuffix(lowered, ".jpg"), strings.HasSuffix(lowered, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lowered, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lowered, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lowered, ".svg"):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// ReplacePlaceholders swaps every asset placeholder in a card for its final
// URL or image markup. When the replacement is itself a full image token,
// the whole surrounding ![alt](placeholder) token is replaced so the result
// never nests image syntax.
func ReplacePlaceholders(card Card, replacements map[string]string) (front, back string, err error) {
	front = card.Front
	back = card.Back
	for _, asset := range card.Assets {
		replacement, ok := replacements[asset.Placeholder]
		if !ok {
			return "", "", fmt.Errorf("no replacement for placeholder %s", asset.Placeholder)
		}
		front = replaceInMarkdown(front, asset.Placeholder, replacement)
		back = replaceInMarkdown(back, asset.Placeholder, replacement)
	}
	return front, back, nil
}

func replaceInMarkdown(markdown, placeholder, replacement string) string {
	if !strings.HasPrefix(replacement, "![") {
		return strings.ReplaceAll(markdown, placeholder, replacement)
	}
	tokenPattern := regexp.MustCompile(`!\[[^\]]*\]\(` + regexp.QuoteMeta(placeholder) + `\)`)
	replaced := tokenPattern.ReplaceAllLiteralString(markdown, replacement)
	if replaced != markdown {
		return replaced
	}
	return strings.ReplaceAll(markdown, placeholder, replacement)
}
