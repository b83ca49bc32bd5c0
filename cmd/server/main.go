package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/api"
	"github.com/pa-policy-engine/internal/cache"
	"github.com/pa-policy-engine/internal/config"
	"github.com/pa-policy-engine/internal/database"
	"github.com/pa-policy-engine/internal/domain"
	"github.com/pa-policy-engine/internal/repository"
	"github.com/pa-policy-engine/internal/review"
	"github.com/pa-policy-engine/internal/service"
	"github.com/pa-policy-engine/pkg/pipeline"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
		"env":  cfg.Environment,
	}).Info("Starting PA policy engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database and migrations
	migrator, err := database.NewMigrationRunner(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := migrator.Up(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	migrator.Close()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Caches
	diffCache, err := cache.NewRedisDiffCache(cfg.Cache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer diffCache.Close()

	evalCache, err := cache.NewEvalCache(cfg.Cache.EvalCacheSize)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create evaluation cache")
	}

	// Review store
	reviews, err := newReviewStore(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create review store")
	}
	defer reviews.Close()

	// Digitization pipeline client, optional
	var fetcher domain.PolicyFetcher
	if cfg.Pipeline.BaseURL != "" {
		fetcher = pipeline.NewClient(cfg.Pipeline)
		logger.WithField("base_url", cfg.Pipeline.BaseURL).Info("Digitization pipeline client configured")
	} else {
		logger.Info("No digitization pipeline configured, policy sync disabled")
	}

	// Engine
	evaluator := service.NewEvaluator(logger, evalCache)
	diffEngine := service.NewDiffEngine(logger)
	analyzer := service.NewImpactAnalyzer(logger, evaluator, cfg.Engine.ImpactWorkers)

	policies := repository.NewPolicyRepository(db.Pool, logger)
	server := api.NewServer(api.Deps{
		Config:     cfg,
		Logger:     logger,
		Policies:   policies,
		Writer:     policies,
		Catalog:    policies,
		Pipeline:   fetcher,
		Cases:      repository.NewCaseRepository(db.Pool, logger),
		DiffCache:  diffCache,
		Evaluator:  evaluator,
		DiffEngine: diffEngine,
		Analyzer:   analyzer,
		Reviews:    reviews,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

func newReviewStore(cfg *domain.Config, logger *logrus.Logger) (review.Store, error) {
	switch strings.ToLower(cfg.Review.Backend) {
	case "postgres":
		logger.Info("Using PostgreSQL review store")
		return review.NewPostgresStoreFromURL(database.URL(cfg.Database))
	default:
		logger.WithField("path", cfg.Review.SQLitePath).Info("Using SQLite review store")
		return review.NewSQLiteStore(cfg.Review.SQLitePath)
	}
}
