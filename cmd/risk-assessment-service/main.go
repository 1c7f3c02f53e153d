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

	"risk-assessment-service/internal/auth"
	"risk-assessment-service/internal/config"
	"risk-assessment-service/internal/db"
	"risk-assessment-service/internal/gemini"
	httphandler "risk-assessment-service/internal/http"
	"risk-assessment-service/internal/http/middleware"
	"risk-assessment-service/internal/logger"
	"risk-assessment-service/internal/repository"
	"risk-assessment-service/internal/service"
	"risk-assessment-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	recordRepo := repository.NewAssessmentRepository(database)
	aiClient := gemini.NewClient(cfg.AI, appLogger)
	if !aiClient.Enabled() {
		appLogger.Warn().Msg("GEMINI_API_KEY not set, analysis requests will be rejected")
	}

	// Snapshot storage is optional, won't fail if not configured.
	var snapshots service.SnapshotStore
	bucket, err := storage.NewSnapshotBucketFromEnv()
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize snapshot storage")
	}
	if err != nil {
		appLogger.Warn().Msg("snapshot storage not configured, records keep inline images only")
	} else {
		snapshots = bucket
	}

	assessmentService := service.NewAssessmentService(
		recordRepo,
		aiClient,
		snapshots,
		cfg.AI.DefaultModel,
		cfg.AI.ModelAllowed,
		appLogger,
	)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(assessmentService, cfg, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting risk assessment service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}
