package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proin/api/internal/app"
	"proin/api/internal/authpw"
	"proin/api/internal/config"
	"proin/api/internal/email"
	"proin/api/internal/events"
	"proin/api/internal/logging"
	"proin/api/internal/metrics"
	"proin/api/internal/search"
	"proin/api/internal/session"
	"proin/api/internal/storage"
	"proin/api/internal/store"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "proin-api",
	Short:   "ProIn project collaboration API",
	Version: version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and serve the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to $PROIN_CONFIG)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func setup() (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info(ctx, "migrations applied")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)
	m := metrics.New()

	var tokens session.TokenStore = session.NewPostgresStore(dataStore)
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		tokens = redisStore
		logger.Info(ctx, "using redis for reset tokens")
	}

	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	if cfg.Storage.Driver == "" {
		logger.Warn(ctx, "storage driver not set, uploads are disabled")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	notifier := email.NewAsyncNotifier(mailer, logger, m)
	defer notifier.Wait()

	var publisher events.Publisher = events.Nop{}
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger, m)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer nc.Close()
		publisher = nc
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meili = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgSearch(db), logger)
	go searchService.ReindexAllFromPG(context.WithoutCancel(ctx))

	service := app.New(cfg, app.Dependencies{
		Store:    dataStore,
		Storage:  files,
		Notifier: notifier,
		Events:   publisher,
		Metrics:  m,
		Search:   searchService,
		Auth:     authpw.NewService(dataStore, tokens, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.ResetTTL),
		Logger:   logger,
	})

	server := app.NewHTTPServer(service, cfg.Server.CORSOrigin, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown error", zap.Error(err))
	}
	return nil
}
