package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/auth"
	"github.com/MarcoPoloResearchLab/spaced/internal/config"
	"github.com/MarcoPoloResearchLab/spaced/internal/logging"
	"github.com/MarcoPoloResearchLab/spaced/internal/server"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().String("http-address", "", "HTTP listen address")
	cmd.Flags().String("signing-secret", "", "Token signing secret (overrides env)")
	if err := viper.BindPFlag("http.address", cmd.Flags().Lookup("http-address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("token.signing_secret", cmd.Flags().Lookup("signing-secret")); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
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

	db, err := server.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	syncService, err := server.NewService(server.ServiceConfig{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		SyncService:  syncService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
