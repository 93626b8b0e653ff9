package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
)

// Importer folds a parsed bundle into the local card store. Assets are
// extracted into a media directory and placeholders rewritten to point at
// the extracted files; cards whose content fingerprint already exists in
// the store are skipped.
type Importer struct {
	store           *oplog.Store
	mediaDir        string
	deckID          string
	allowDuplicates bool
	logger          *zap.Logger
}

// ImporterConfig wires an Importer.
type ImporterConfig struct {
	Store    *oplog.Store
	MediaDir string
	// DeckID is optional; imported cards join the deck when set.
	DeckID string
	// AllowDuplicates disables the fingerprint skip.
	AllowDuplicates bool
	Logger          *zap.Logger
}

// NewImporter validates the configuration.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("importer requires a store")
	}
	if cfg.MediaDir == "" {
		return nil, fmt.Errorf("importer requires a media directory")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		store:           cfg.Store,
		mediaDir:        cfg.MediaDir,
		deckID:          cfg.DeckID,
		allowDuplicates: cfg.AllowDuplicates,
		logger:          logger,
	}, nil
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Imported int
	Skipped  int
	Assets   int
}

// Import creates a card for every manifest entry not already present in the
// store. Asset files are content addressed, so re-importing a bundle never
// duplicates media on disk.
func (imp *Importer) Import(parsed Parsed) (ImportStats, error) {
	existing := make(map[string]struct{})
	for _, known := range imp.store.Cards() {
		existing[Fingerprint(known.Front, known.Back)] = struct{}{}
	}

	var stats ImportStats
	for _, manifestCard := range parsed.Manifest.Cards {
		replacements := make(map[string]string, len(manifestCard.Assets))
		for _, asset := range manifestCard.Assets {
			data, err := parsed.AssetBytes(manifestCard, asset.File)
			if err != nil {
				return stats, err
			}
			fileName := filepath.Base(asset.File)
			target := filepath.Join(imp.mediaDir, fileName)
			if _, err := os.Stat(target); err != nil {
				if err := os.MkdirAll(imp.mediaDir, 0o755); err != nil {
					return stats, fmt.Errorf("create media directory: %w", err)
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return stats, fmt.Errorf("write asset %s: %w", fileName, err)
				}
				stats.Assets++
			}
			alt := asset.Alt
			if alt == "" {
				alt = fileName
			}
			replacements[asset.Placeholder] = fmt.Sprintf("![%s](%s)", alt, target)
		}

		front, back, err := ReplacePlaceholders(manifestCard, replacements)
		if err != nil {
			return stats, err
		}
		fingerprint := Fingerprint(front, back)
		if _, dup := existing[fingerprint]; dup && !imp.allowDuplicates {
			stats.Skipped++
			imp.logger.Debug("skipped duplicate card",
				zap.String("file", manifestCard.Source.File),
				zap.Int("line", manifestCard.Source.LineStart))
			continue
		}
		existing[fingerprint] = struct{}{}

		if _, err := imp.store.CreateCard(oplog.NewCard{Front: front, Back: back, DeckID: imp.deckID}); err != nil {
			return stats, fmt.Errorf("create card from %s:%d: %w", manifestCard.Source.File, manifestCard.Source.LineStart, err)
		}
		stats.Imported++
	}
	return stats, nil
}
