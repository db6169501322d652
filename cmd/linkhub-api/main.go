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

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/config"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/customizations"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/database"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/links"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/server"
	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/usernames"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	// a missing .env is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "linkhub-api",
		Short: "Linkhub profile backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newSessionCommand() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Session token utilities",
	}
	var (
		email       string
		displayName string
		ttl         time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue <owner-id>",
		Short: "Mint a session token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.Session.SigningSecret),
				Issuer:        appConfig.Session.Issuer,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.SessionProfile{
				OwnerID:     args[0],
				Email:       email,
				DisplayName: displayName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	issueCmd.Flags().StringVar(&email, "email", "", "Email embedded in the session")
	issueCmd.Flags().StringVar(&displayName, "display-name", "", "Display name embedded in the session")
	issueCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Session lifetime")
	sessionCmd.AddCommand(issueCmd)
	return sessionCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Origins allowed by CORS")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for slug caching")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "cache.redis_address", "redis-address")
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

	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Session.SigningSecret),
		Issuer:        appConfig.Session.Issuer,
		CookieName:    appConfig.Session.CookieName,
	})
	if err != nil {
		return err
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}

	slugCache := usernames.NewNoopCache()
	if appConfig.Cache.Enabled() {
		redisCache, err := usernames.NewRedisCache(ctx, usernames.RedisCacheConfig{
			Address:  appConfig.Cache.RedisAddress,
			Password: appConfig.Cache.RedisPassword,
			DB:       appConfig.Cache.RedisDB,
			TTL:      appConfig.Cache.TTL,
		})
		if err != nil {
			logger.Warn("slug cache unavailable; continuing without it",
				zap.String("address", appConfig.Cache.RedisAddress),
				zap.Error(err))
		} else {
			defer redisCache.Close() //nolint:errcheck
			slugCache = redisCache
		}
	}

	usernameService, err := usernames.NewService(usernames.ServiceConfig{
		Database: db,
		Owners:   accountService,
		Cache:    slugCache,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	linkService, err := links.NewService(links.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		IDProvider:   links.NewUUIDProvider(),
		SlugResolver: usernameService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	objectStore := customizations.NewDisabledStore()
	if appConfig.Storage.Enabled() {
		s3Store, err := customizations.NewS3Store(ctx, customizations.S3Config{
			Bucket:          appConfig.Storage.Bucket,
			Endpoint:        appConfig.Storage.Endpoint,
			Region:          appConfig.Storage.Region,
			AccessKeyID:     appConfig.Storage.AccessKeyID,
			SecretAccessKey: appConfig.Storage.SecretAccessKey,
			URLTTL:          appConfig.Storage.URLTTL,
		})
		if err != nil {
			return err
		}
		objectStore = s3Store
	}

	customizationService, err := customizations.NewService(customizations.ServiceConfig{
		Database:     db,
		Store:        objectStore,
		SlugResolver: usernameService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	sink := analytics.NewSink(analytics.SinkConfig{
		Host:    appConfig.AnalyticsSink.Host,
		Token:   appConfig.AnalyticsSink.Token,
		Timeout: appConfig.AnalyticsSink.Timeout,
	})
	if !sink.Enabled() {
		logger.Warn("analytics sink not configured; clicks will not be recorded")
	}
	tracker, err := analytics.NewTracker(analytics.TrackerConfig{
		SlugResolver: usernameService,
		Sink:         sink,
		Clock:        time.Now,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	reader := analytics.NewReader(analytics.ReaderConfig{Sink: sink, Logger: logger})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		OwnerResolver:    accountService,
		Profiles:         accountService,
		Links:            linkService,
		Usernames:        usernameService,
		Customizations:   customizationService,
		Tracker:          tracker,
		Analytics:        reader,
		Realtime:         server.NewRealtimeDispatcher(),
		AllowedOrigins:   appConfig.AllowedOrigins,
		ClickRate: server.RateSettings{
			PerSecond: appConfig.Tracking.RatePerSecond,
			Burst:     appConfig.Tracking.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
