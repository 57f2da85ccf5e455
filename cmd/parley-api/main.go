package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-labs/parley/backend/internal/chat"
	"github.com/parley-labs/parley/backend/internal/config"
	"github.com/parley-labs/parley/backend/internal/database"
	"github.com/parley-labs/parley/backend/internal/identity"
	"github.com/parley-labs/parley/backend/internal/logging"
	"github.com/parley-labs/parley/backend/internal/metrics"
	"github.com/parley-labs/parley/backend/internal/server"
	"github.com/parley-labs/parley/backend/internal/sessions"
	"github.com/parley-labs/parley/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley-api",
		Short: "Parley chat backend service",
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
	cmd.PersistentFlags().String("provider-client-id", defaults.GetString("provider.client_id"), "Identity provider client ID")
	cmd.PersistentFlags().String("provider-tenant-id", defaults.GetString("provider.tenant_id"), "Identity provider tenant ID")
	cmd.PersistentFlags().String("provider-redirect-url", defaults.GetString("provider.redirect_url"), "OAuth callback URL registered with the provider")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session TTL in minutes")
	cmd.PersistentFlags().String("provider-client-secret", "", "Identity provider client secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "provider.client_id", "provider-client-id")
	bindFlag(cmd, "provider.tenant_id", "provider-tenant-id")
	bindFlag(cmd, "provider.redirect_url", "provider-redirect-url")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "provider.client_secret", "provider-client-secret")
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

	identityClient, err := identity.NewClient(identity.Config{
		ClientID:     appConfig.ProviderClientID,
		ClientSecret: appConfig.ProviderClientSecret,
		TenantID:     appConfig.ProviderTenantID,
		RedirectURL:  appConfig.ProviderRedirectURL,
	})
	if err != nil {
		return err
	}

	sessionStore, err := sessions.NewStore(sessions.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	userDirectory, err := users.NewDirectory(users.DirectoryConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		IDProvider: chat.NewUUIDProvider(),
		Responder:  chat.EchoResponder{},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Identity:   identityClient,
		Sessions:   sessionStore,
		Users:      userDirectory,
		Chat:       chatService,
		Logger:     logger,
		Metrics:    metrics.NewCollector(),
		CookieName: appConfig.SessionCookieName,
		SessionTTL: appConfig.SessionTTL,
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
