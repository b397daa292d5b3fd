package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cantierecloud/backoffice/internal/auth"
	"github.com/cantierecloud/backoffice/internal/config"
	"github.com/cantierecloud/backoffice/internal/database"
	"github.com/cantierecloud/backoffice/internal/gate"
	"github.com/cantierecloud/backoffice/internal/identity"
	"github.com/cantierecloud/backoffice/internal/logging"
	"github.com/cantierecloud/backoffice/internal/profiles"
	"github.com/cantierecloud/backoffice/internal/server"
	"github.com/cantierecloud/backoffice/internal/settings"
	"github.com/cantierecloud/backoffice/internal/store"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "backoffice-api",
		Short: "Construction backoffice API server",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
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

	provider, err := identity.NewLocalProvider(identity.LocalProviderConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	documentStore, err := store.NewSQLiteStore(db)
	if err != nil {
		return err
	}

	sessionGate, err := gate.New(gate.Config{
		Provider: provider,
		Store:    documentStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	settingsService, err := settings.NewService(documentStore)
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "backoffice-auth",
		Audience:      "backoffice-dashboard",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrapAdmin(signalCtx, appConfig, sessionGate, logger); err != nil {
		return err
	}

	go func() {
		if err := sessionGate.Observe(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("session observer stopped", zap.Error(err))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gate:     sessionGate,
		Provider: provider,
		Settings: settingsService,
		Tokens:   tokenIssuer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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

// bootstrapAdmin seeds the first chief-executive account when the database is
// empty, so a fresh deployment has someone able to manage users.
func bootstrapAdmin(ctx context.Context, appConfig config.AppConfig, sessionGate *gate.Gate, logger *zap.Logger) error {
	if appConfig.BootstrapEmail == "" || appConfig.BootstrapSecret == "" {
		return nil
	}

	existing, err := sessionGate.ListProfiles(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	profile, err := sessionGate.CreateUser(ctx, gate.CreateUserInput{
		Email:  appConfig.BootstrapEmail,
		Secret: appConfig.BootstrapSecret,
		Name:   "Amministratore",
		Role:   profiles.RoleChiefExecutive,
	}, "")
	if err != nil {
		if errors.Is(err, identity.ErrEmailInUse) {
			return nil
		}
		return err
	}
	logger.Info("bootstrap admin created", zap.String("email", profile.Email))
	return nil
}
