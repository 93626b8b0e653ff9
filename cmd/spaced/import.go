package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/bundle"
	"github.com/MarcoPoloResearchLab/spaced/internal/config"
	"github.com/MarcoPoloResearchLab/spaced/internal/logging"
	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
	"github.com/MarcoPoloResearchLab/spaced/internal/storage"
)

func newImportCommand() *cobra.Command {
	var deckID string
	var skipDuplicates bool

	cmd := &cobra.Command{
		Use:   "import <bundle.zip>",
		Short: "Import a compiled bundle into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0], deckID, skipDuplicates)
		},
	}

	cmd.Flags().StringVar(&deckID, "deck", "", "Deck id to add imported cards to")
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "Skip cards whose content already exists in the store")
	return cmd
}

func runImport(bundlePath, deckID string, skipDuplicates bool) error {
	appConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, _, closeStore, err := openLocalStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle %s: %w", bundlePath, err)
	}
	parsed, err := bundle.Parse(data)
	if err != nil {
		return err
	}

	importer, err := bundle.NewImporter(bundle.ImporterConfig{
		Store:           store,
		MediaDir:        appConfig.MediaDir,
		DeckID:          deckID,
		AllowDuplicates: !skipDuplicates,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	stats, err := importer.Import(parsed)
	if err != nil {
		return err
	}

	fmt.Printf("Imported: %d\n", stats.Imported)
	fmt.Printf("Skipped: %d\n", stats.Skipped)
	fmt.Printf("Assets extracted: %d\n", stats.Assets)
	return nil
}

// openLocalStore opens the SQLite database, wires the projection store and
// replays the operation log. The returned closer releases the database.
func openLocalStore(appConfig config.ClientConfig, logger *zap.Logger) (*oplog.Store, storage.Stores, func(), error) {
	db, err := storage.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, storage.Stores{}, nil, err
	}
	closeDatabase := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close() //nolint:errcheck
		}
	}

	stores := storage.NewStores(db)
	store, err := oplog.New(oplog.Config{
		Log:        stores.Operations,
		Pending:    stores.Pending,
		ReviewLogs: stores.ReviewLogs,
		Meta:       stores.Meta,
		Logger:     logger,
	})
	if err != nil {
		closeDatabase()
		return nil, storage.Stores{}, nil, err
	}
	if err := store.Replay(); err != nil {
		closeDatabase()
		return nil, storage.Stores{}, nil, err
	}
	return store, stores, closeDatabase, nil
}
