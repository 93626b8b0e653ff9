package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/spaced/internal/archive"
	"github.com/MarcoPoloResearchLab/spaced/internal/compiler"
	"github.com/MarcoPoloResearchLab/spaced/internal/vault"
)

var unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

type registeredAsset struct {
	zipPath string
	data    []byte
}

// Packager rewrites image links to placeholders and collects the referenced
// files. Assets are deduplicated by absolute path across the whole bundle,
// so two cards embedding one image share one archive entry.
type Packager struct {
	vault          *vault.Context
	byAbsolutePath map[string]registeredAsset
	order          []string
}

// NewPackager builds a Packager over an indexed vault.
func NewPackager(vaultCtx *vault.Context) *Packager {
	return &Packager{
		vault:          vaultCtx,
		byAbsolutePath: make(map[string]registeredAsset),
	}
}

// RewriteCard resolves every image link on both sides of a parsed card,
// registers the referenced assets and swaps the links for placeholder
// tokens. The placeholder counter runs across both sides, so each asset
// reference within one card gets a distinct placeholder. Resolution
// failures become diagnostics and leave the original link text in place.
func (p *Packager) RewriteCard(block compiler.CardBlock, sourceFileAbs string) (Card, []compiler.Diagnostic) {
	counter := 0
	var diagnostics []compiler.Diagnostic
	var assets []Asset

	front := p.rewriteSide(block.Front, sourceFileAbs, block.Source, &counter, &assets, &diagnostics)
	back := p.rewriteSide(block.Back, sourceFileAbs, block.Source, &counter, &assets, &diagnostics)

	return Card{
		Front:  front,
		Back:   back,
		Assets: assets,
		Source: CardSource{
			File:      block.Source.File,
			LineStart: block.Source.LineStart,
			LineEnd:   block.Source.LineEnd,
		},
	}, diagnostics
}

func (p *Packager) rewriteSide(
	markdown string,
	sourceFileAbs string,
	source compiler.SourceRange,
	counter *int,
	assets *[]Asset,
	diagnostics *[]compiler.Diagnostic,
) string {
	links := compiler.FindImageLinks(markdown)
	if len(links) == 0 {
		return markdown
	}

	var output strings.Builder
	cursor := 0
	for _, link := range links {
		output.WriteString(markdown[cursor:link.Start])
		cursor = link.End

		resolved, err := p.vault.Resolve(sourceFileAbs, link.Target, link.Kind)
		if err != nil {
			code := compiler.CodeAssetNotFound
			var resolveErr *vault.ResolveError
			if errors.As(err, &resolveErr) {
				code = resolveErr.Code
			}
			*diagnostics = append(*diagnostics, compiler.Diagnostic{
				Code:     code,
				Message:  err.Error(),
				File:     source.File,
				Line:     source.LineStart + link.Line - 1,
				Severity: compiler.SeverityError,
			})
			output.WriteString(link.Raw)
			continue
		}
		if resolved.External {
			output.WriteString(link.Raw)
			continue
		}

		registered, err := p.register(resolved.AbsolutePath)
		if err != nil {
			*diagnostics = append(*diagnostics, compiler.Diagnostic{
				Code:     compiler.CodeAssetNotFound,
				Message:  err.Error(),
				File:     source.File,
				Line:     source.LineStart + link.Line - 1,
				Severity: compiler.SeverityError,
			})
			output.WriteString(link.Raw)
			continue
		}

		*counter++
		placeholder := fmt.Sprintf("%simg_%d", PlaceholderPrefix, *counter)
		alt := defaultAltText(link.Target)
		if link.Kind == compiler.LinkKindMarkdown && link.Alt != "" {
			alt = link.Alt
		}
		*assets = append(*assets, Asset{Placeholder: placeholder, File: registered.zipPath, Alt: alt})
		fmt.Fprintf(&output, "![%s](%s)", alt, placeholder)
	}
	output.WriteString(markdown[cursor:])
	return output.String()
}

func (p *Packager) register(absolutePath string) (registeredAsset, error) {
	if existing, ok := p.byAbsolutePath[absolutePath]; ok {
		return existing, nil
	}
	data, err := os.ReadFile(absolutePath)
	if err != nil {
		return registeredAsset{}, fmt.Errorf("read asset %s: %w", absolutePath, err)
	}
	digest := sha256.Sum256(data)
	baseName := unsafeFileNameChars.ReplaceAllString(filepath.Base(absolutePath), "-")
	entry := registeredAsset{
		zipPath: assetDirPrefix + hex.EncodeToString(digest[:8]) + "-" + baseName,
		data:    data,
	}
	p.byAbsolutePath[absolutePath] = entry
	p.order = append(p.order, absolutePath)
	return entry, nil
}

// AssetCount reports the number of distinct assets registered so far.
func (p *Packager) AssetCount() int {
	return len(p.order)
}

// WriteBundle assembles the archive bytes: manifest.json first, then every
// registered asset in registration order.
func (p *Packager) WriteBundle(manifest Manifest, moment time.Time) ([]byte, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	entries := []archive.Entry{{Name: "manifest.json", Data: manifestJSON}}
	for _, absolutePath := range p.order {
		asset := p.byAbsolutePath[absolutePath]
		entries = append(entries, archive.Entry{Name: asset.zipPath, Data: asset.data})
	}
	return archive.Write(entries, moment), nil
}

func defaultAltText(target string) string {
	base := filepath.Base(target)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		return "Image"
	}
	return name
}
