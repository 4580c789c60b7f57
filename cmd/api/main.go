//	@title			Upload Gateway API
//	@version		1.0
//	@description	Public write gateway for token images and metadata.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	UploadToken
//	@in							header
//	@name						X-Upload-Token
//	@description				Shared upload secret. Required only when the gateway is configured with one.

package main

//go:generate swag init -d ../.. -g cmd/api/main.go -o ../../docs/swagger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moltwallet/upload-gateway/internal/config"
	"github.com/moltwallet/upload-gateway/internal/db"
	"github.com/moltwallet/upload-gateway/internal/ledger"
	"github.com/moltwallet/upload-gateway/internal/metrics"
	"github.com/moltwallet/upload-gateway/internal/obs/tracing"
	"github.com/moltwallet/upload-gateway/internal/server"
	"github.com/moltwallet/upload-gateway/internal/storage"
	"github.com/moltwallet/upload-gateway/internal/upload"

	_ "github.com/moltwallet/upload-gateway/docs/swagger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped with error")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg)
	log.Info().Str("config", cfg.String()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		Protocol:    cfg.TracingProtocol,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	var recorder ledger.Recorder = ledger.Noop{}
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("database migration: %w", err)
		}
		recorder = ledger.NewRepository(pool)
	}

	opts := upload.Options{
		BaseURL:           cfg.CDNBase,
		StrictKeyDecoding: cfg.StrictKeyDecoding,
		Ledger:            recorder,
	}
	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		opts.Observer = m
	}

	// Wire dependencies: store → service → handler
	uploadSvc := upload.NewService(store, opts)
	uploadHandler := upload.NewHandler(uploadSvc)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: server.NewRouter(server.Deps{
			Uploads:     uploadHandler,
			UploadToken: cfg.UploadToken,
			Metrics:     m,
			CORSMaxAge:  cfg.CORSMaxAge,
			Swagger:     cfg.SwaggerEnabled,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		if cfg.SwaggerEnabled {
			log.Info().Msgf("swagger UI at http://localhost:%d/swagger/", cfg.Port)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if m != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down gracefully...")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics forced shutdown")
		}
	}

	log.Info().Msg("server stopped")
	return runErr
}

// setupLogging switches to JSON output in production and applies LOG_LEVEL.
func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverLocal:
		return storage.NewLocalStorage(cfg.StorageLocalRoot)
	case config.DriverMemory:
		log.Warn().Msg("memory storage driver: objects are lost on restart")
		return storage.NewMemoryStorage(), nil
	default:
		return storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:     cfg.StorageEndpoint,
			AccessKey:    cfg.StorageAccessKey,
			SecretKey:    cfg.StorageSecretKey,
			Bucket:       cfg.StorageBucket,
			Region:       cfg.StorageRegion,
			UseSSL:       cfg.StorageUseSSL,
			CreateBucket: cfg.StorageCreateBucket,
		})
	}
}
