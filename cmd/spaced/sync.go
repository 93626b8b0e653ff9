package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/config"
	"github.com/MarcoPoloResearchLab/spaced/internal/logging"
	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
	"github.com/MarcoPoloResearchLab/spaced/internal/syncer"
	"github.com/MarcoPoloResearchLab/spaced/internal/transport"
)

// metaKeyAccessToken stores the bearer token issued at client registration.
const metaKeyAccessToken = "accessToken"

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the background sync agent against the remote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context())
		},
	}

	cmd.Flags().String("server-url", "", "Sync server base URL")
	if err := viper.BindPFlag("sync.server_url", cmd.Flags().Lookup("server-url")); err != nil {
		panic(err)
	}
	return cmd
}

func runSync(ctx context.Context) error {
	appConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}
	if strings.TrimSpace(appConfig.ServerURL) == "" {
		return fmt.Errorf("sync.server_url is required")
	}

	logger, err := logging.NewFileLogger(appConfig.Log.Level, logging.FileSinkOptions{
		Path:       appConfig.Log.FilePath,
		MaxSizeMB:  appConfig.Log.MaxSizeMB,
		MaxBackups: appConfig.Log.MaxBackups,
		MaxAgeDays: appConfig.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, stores, closeStore, err := openLocalStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accessToken, _, err := stores.Meta.Get(metaKeyAccessToken)
	if err != nil {
		return err
	}
	client, err := transport.NewClient(transport.ClientConfig{
		BaseURL:     appConfig.ServerURL,
		AccessToken: accessToken,
	})
	if err != nil {
		return err
	}

	clientID, registered, err := stores.Meta.Get(oplog.MetaKeyClientID)
	if err != nil {
		return err
	}
	if !registered || accessToken == "" {
		credentials, err := client.Register(signalCtx)
		if err != nil {
			return fmt.Errorf("register with %s: %w", appConfig.ServerURL, err)
		}
		if err := stores.Meta.Set(oplog.MetaKeyClientID, credentials.ClientID); err != nil {
			return err
		}
		if err := stores.Meta.Set(metaKeyAccessToken, credentials.AccessToken); err != nil {
			return err
		}
		clientID = credentials.ClientID
		logger.Info("registered sync client", zap.String("clientId", clientID))
	}

	agent, err := syncer.New(syncer.Config{
		Store:        store,
		Transport:    client,
		Logger:       logger,
		PushInterval: time.Duration(appConfig.PushIntervalSeconds) * time.Second,
		PullInterval: time.Duration(appConfig.PullIntervalSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	logger.Info("sync agent starting",
		zap.String("clientId", clientID),
		zap.String("server", appConfig.ServerURL),
		zap.Int("pushIntervalSeconds", appConfig.PushIntervalSeconds),
		zap.Int("pullIntervalSeconds", appConfig.PullIntervalSeconds))

	if err := agent.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
