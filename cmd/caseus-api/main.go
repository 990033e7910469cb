package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseus-app/caseus-backend/internal/auth"
	"github.com/caseus-app/caseus-backend/internal/cheese"
	"github.com/caseus-app/caseus-backend/internal/config"
	"github.com/caseus-app/caseus-backend/internal/database"
	"github.com/caseus-app/caseus-backend/internal/logging"
	"github.com/caseus-app/caseus-backend/internal/photos"
	"github.com/caseus-app/caseus-backend/internal/rtdb"
	"github.com/caseus-app/caseus-backend/internal/server"
	"github.com/caseus-app/caseus-backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "caseus-api",
		Short: "Caseus cheese tracking backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("provider-jwks-url", defaults.GetString("auth.provider_jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("provider-audience", defaults.GetString("auth.provider_audience"), "Identity provider OAuth client ID")
	cmd.PersistentFlags().String("provider-issuers", defaults.GetString("auth.provider_issuers"), "Comma-separated allowed token issuers")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Photo storage backend (local or gcs)")
	cmd.PersistentFlags().String("storage-local-dir", defaults.GetString("storage.local_dir"), "Local photo storage directory")
	cmd.PersistentFlags().String("storage-gcs-bucket", defaults.GetString("storage.gcs_bucket"), "GCS bucket for photo storage")
	cmd.PersistentFlags().String("storage-gcs-credentials", defaults.GetString("storage.gcs_credentials"), "Path to GCS service account key")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.provider_jwks_url", "provider-jwks-url")
	bindFlag(cmd, "auth.provider_audience", "provider-audience")
	bindFlag(cmd, "auth.provider_issuers", "provider-issuers")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.local_dir", "storage-local-dir")
	bindFlag(cmd, "storage.gcs_bucket", "storage-gcs-bucket")
	bindFlag(cmd, "storage.gcs_credentials", "storage-gcs-credentials")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	providerVerifier, err := auth.NewProviderVerifier(auth.ProviderVerifierConfig{
		Audience:       appConfig.ProviderAudience,
		JWKSURL:        appConfig.ProviderJWKSURL,
		AllowedIssuers: appConfig.ProviderIssuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	cheeseService, err := cheese.NewService(cheese.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: cheese.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	objectStore, closeStore, err := newObjectStore(ctx, appConfig)
	if err != nil {
		return err
	}
	defer closeStore()

	albumService, err := photos.NewAlbumService(photos.AlbumConfig{
		Store:  objectStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	treeStore, err := rtdb.NewStore(rtdb.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	authLimiter := server.NewLimiterStore(appConfig.AuthRateLimitPerMinute, appConfig.AuthRateLimitPerMinute, time.Minute)
	defer authLimiter.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:          providerVerifier,
		TokenManager:      tokenManager,
		Users:             userService,
		Cheeses:           cheeseService,
		Albums:            albumService,
		ChatBackend:       treeStore,
		AuthLimiter:       authLimiter,
		ChatMessageWindow: appConfig.ChatMessageWindow,
		ChatHistoryLimit:  appConfig.ChatHistoryLimit,
		Logger:            logger,
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

func newObjectStore(ctx context.Context, appConfig config.AppConfig) (photos.ObjectStore, func(), error) {
	switch appConfig.StorageBackend {
	case "gcs":
		store, err := photos.NewGCSStore(ctx, appConfig.GCSBucket, appConfig.GCSCredentials)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "local":
		store, err := photos.NewLocalStore(appConfig.StorageLocalDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", appConfig.StorageBackend)
	}
}
