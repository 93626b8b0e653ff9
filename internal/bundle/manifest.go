// Package bundle defines the card-bundle interchange format: a store-only
// zip with a manifest.json describing compiled cards plus their image
// assets under assets/. The importer validates fail-closed: any manifest
// that does not satisfy the schema is rejected whole.
package bundle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the manifest schema identifier. Unknown versions are rejected.
const Version = "spaced-bundle-v1"

// PlaceholderPrefix starts every in-card asset placeholder.
const PlaceholderPrefix = "asset://"

// assetDirPrefix starts every asset path inside the archive.
const assetDirPrefix = "assets/"

// ErrInvalidManifest indicates a manifest that fails schema validation.
var ErrInvalidManifest = errors.New("bundle: invalid manifest")

// Warning is a non-fatal compiler diagnostic carried in the manifest.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

// Asset binds a placeholder inside card markdown to an archive entry.
type Asset struct {
	Placeholder string `json:"placeholder"`
	File        string `json:"file"`
	Alt         string `json:"alt,omitempty"`
}

// CardSource records the origin of a card, 1-based inclusive lines.
type CardSource struct {
	File      string `json:"file"`
	LineStart int    `json:"lineStart"`
	LineEnd   int    `json:"lineEnd"`
}

// Card is one compiled card with placeholder-rewritten markdown.
type Card struct {
	Front  string     `json:"front"`
	Back   string     `json:"back"`
	Assets []Asset    `json:"assets"`
	Source CardSource `json:"source"`
}

// Source describes where the bundle was compiled from.
type Source struct {
	Type      string   `json:"type"`
	VaultRoot string   `json:"vaultRoot"`
	Inputs    []string `json:"inputs"`
}

// SourceTypeObsidian is the only source type currently produced.
const SourceTypeObsidian = "obsidian"

// Manifest is the bundle's manifest.json.
type Manifest struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Source      Source    `json:"source"`
	Cards       []Card    `json:"cards"`
	Warnings    []Warning `json:"warnings"`
}

// Validate checks the manifest against the schema. The zero value for
// Warnings is permitted; everything else must be present and well formed.
func (m *Manifest) Validate() error {
	if m.Version != Version {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidManifest, m.Version)
	}
	if m.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: missing generatedAt", ErrInvalidManifest)
	}
	if m.Source.Type != SourceTypeObsidian {
		return fmt.Errorf("%w: unsupported source type %q", ErrInvalidManifest, m.Source.Type)
	}
	if m.Source.VaultRoot == "" {
		return fmt.Errorf("%w: empty source vaultRoot", ErrInvalidManifest)
	}
	if len(m.Source.Inputs) == 0 {
		return fmt.Errorf("%w: empty source inputs", ErrInvalidManifest)
	}
	for _, input := range m.Source.Inputs {
		if input == "" {
			return fmt.Errorf("%w: empty source input", ErrInvalidManifest)
		}
	}
	for i, card := range m.Cards {
		if card.Front == "" || card.Back == "" {
			return fmt.Errorf("%w: card %d has an empty side", ErrInvalidManifest, i)
		}
		if card.Source.File == "" {
			return fmt.Errorf("%w: card %d has no source file", ErrInvalidManifest, i)
		}
		if card.Source.LineStart <= 0 || card.Source.LineEnd <= 0 {
			return fmt.Errorf("%w: card %d has non-positive source lines", ErrInvalidManifest, i)
		}
		for _, asset := range card.Assets {
			if !strings.HasPrefix(asset.Placeholder, PlaceholderPrefix) {
				return fmt.Errorf("%w: card %d asset placeholder %q", ErrInvalidManifest, i, asset.Placeholder)
			}
			if !strings.HasPrefix(asset.File, assetDirPrefix) {
				return fmt.Errorf("%w: card %d asset file %q", ErrInvalidManifest, i, asset.File)
			}
		}
	}
	for i, warning := range m.Warnings {
		if warning.Code == "" || warning.Message == "" || warning.File == "" {
			return fmt.Errorf("%w: warning %d is incomplete", ErrInvalidManifest, i)
		}
		if warning.Line <= 0 {
			return fmt.Errorf("%w: warning %d has non-positive line", ErrInvalidManifest, i)
		}
	}
	return nil
}
