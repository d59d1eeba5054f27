package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/api"
	"github.com/NevoLevi/mini-project-cdss/internal/config"
	"github.com/NevoLevi/mini-project-cdss/internal/domain"
	"github.com/NevoLevi/mini-project-cdss/internal/knowledge"
	"github.com/NevoLevi/mini-project-cdss/internal/loader"
	"github.com/NevoLevi/mini-project-cdss/internal/repository"
	"github.com/NevoLevi/mini-project-cdss/internal/service"
)

func main() {
	// Load configuration
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
	}).Info("Starting CDSS engine")

	// Knowledge base and parameter catalogue
	kb, err := knowledge.NewProvider(cfg.Data.KnowledgeBasePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open knowledge base")
	}
	catalog, err := knowledge.NewCatalog(kb, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build parameter catalogue")
	}

	// Persistent fact log and in-memory store
	factLog, err := repository.NewFactLog(cfg.Data.FactLogPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open fact log")
	}
	defer factLog.Close()

	store := repository.NewFactStore(kb, logger)
	patients := repository.NewPatientDirectory()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := factLog.Replay(ctx, store.Append); err != nil {
		logger.WithError(err).Fatal("Failed to replay fact log")
	}

	engine := service.NewEngine(logger, store, factLog, kb, catalog, patients)

	// Optional workbook with demographics and historical measurements.
	// Demographics are reloaded on every start; the measurements go into
	// the fact log only once, later starts replay them from the log.
	if cfg.Data.WorkbookPath != "" {
		logged, err := factLog.Count(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Failed to inspect fact log")
		}
		apply := func(f domain.Fact) error {
			store.Append(f)
			return factLog.Append(ctx, f)
		}
		if logged > 0 {
			logger.WithField("facts", logged).Info("Fact log already populated, loading demographics only")
			apply = func(domain.Fact) error { return nil }
		}

		l := loader.NewLoader(logger, catalog)
		stats, err := l.LoadWorkbook(cfg.Data.WorkbookPath, patients, apply)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load workbook")
		}
		logger.WithFields(logrus.Fields{
			"patients": stats.Patients,
			"facts":    stats.Facts,
			"skipped":  stats.Skipped,
		}).Info("Initial data loaded")
	}

	server := api.NewServer(configManager, logger, engine, kb)

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

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
