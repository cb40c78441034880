package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krittin/examscan/internal/analysis"
	"github.com/krittin/examscan/internal/api"
	"github.com/krittin/examscan/internal/auth"
	"github.com/krittin/examscan/internal/clock"
	"github.com/krittin/examscan/internal/config"
	"github.com/krittin/examscan/internal/eventbus"
	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/metrics"
	"github.com/krittin/examscan/internal/notifier"
	"github.com/krittin/examscan/internal/services"
	"github.com/krittin/examscan/internal/storage"
	"github.com/krittin/examscan/internal/store"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	// Configuration flags - all can also be set via environment variables (EXAMSCAN_*)
	flagPort := flag.String("port", "", "HTTP server port (env: EXAMSCAN_PORT, default: 4820)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: EXAMSCAN_LOG_LEVEL, default: info)")
	flagDataDir := flag.String("data-dir", "", "Data directory path (env: EXAMSCAN_DATA_DIR)")
	flagDatabasePath := flag.String("database-path", "", "Database file path (env: EXAMSCAN_DATABASE_PATH)")
	flagScanTimeout := flag.Duration("scan-timeout", 0, "Max time a scan job may stay in flight (env: EXAMSCAN_SCAN_TIMEOUT, default: 10m)")
	flagRetentionDays := flag.Int("retention-days", -1, "Days to keep old events, 0 to disable pruning (env: EXAMSCAN_RETENTION_DAYS, default: 90)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("examscan %s\n", config.Version)
		os.Exit(0)
	}

	config.Load()

	flagOverrides := config.FlagOverrides{
		Port:         flagPort,
		LogLevel:     flagLogLevel,
		DataDir:      flagDataDir,
		DatabasePath: flagDatabasePath,
		ScanTimeout:  flagScanTimeout,
	}
	// Special handling for retention days: -1 means not set (use default), 0 means disable
	if *flagRetentionDays >= 0 {
		flagOverrides.RetentionDays = flagRetentionDays
	}
	config.ApplyFlags(flagOverrides)

	cfg := config.Get()

	logger.Init(cfg.LogDir)
	logger.SetLevel(cfg.LogLevel)

	logger.Infof("Starting examscan %s", config.Version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %s", cfg.Port)
	logger.Infof("  Log Level: %s", cfg.LogLevel)
	logger.Infof("  Data Directory: %s", cfg.DataDir)
	logger.Infof("  Database: %s", cfg.DatabasePath)
	logger.Infof("  Upload Directory: %s", cfg.UploadDir)
	logger.Infof("  Scan Timeout: %s", cfg.ScanTimeout)
	if cfg.RetentionDays > 0 {
		logger.Infof("  Event Retention: %d days", cfg.RetentionDays)
	} else {
		logger.Infof("  Event Retention: disabled (no automatic pruning)")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warnf("  EXAMSCAN_GEMINI_API_KEY is not set: scan submissions will fail")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Infof("Database ready at %s", cfg.DatabasePath)

	uploads, err := storage.NewUploads(cfg.UploadDir)
	if err != nil {
		logger.Errorf("Failed to initialize upload storage: %v", err)
		os.Exit(1)
	}

	eb := eventbus.NewEventBus(st.DB)

	metricsService := metrics.NewMetricsService(eb)
	metricsService.Start()

	sessions := auth.NewSessions(st, cfg.SessionTTL, cfg.SignupTTL)

	analyzer := analysis.NewGeminiAnalyzer(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEndpoint)

	coordinator := services.NewCoordinator(eb)
	submitter := services.NewSubmitter(eb, st, analyzer, uploads, clock.NewRealClock(), cfg.ScanTimeout)

	notifierService := notifier.NewNotifier(eb, cfg.AlertURLs)
	notifierService.Start()

	janitor := services.NewJanitor(st, cfg.RetentionDays)
	if err := janitor.Start(); err != nil {
		logger.Errorf("Failed to start janitor: %v", err)
		os.Exit(1)
	}
	// Sweep once at startup so stale sessions don't linger until the
	// first hourly tick.
	go janitor.RunOnce()

	apiServer := api.NewRESTServer(api.ServerDeps{
		Store:       st,
		EventBus:    eb,
		Coordinator: coordinator,
		Submitter:   submitter,
		Sessions:    sessions,
		Uploads:     uploads,
		Metrics:     metricsService,
	})
	// Subscribe after the hub is attached so the first event cannot
	// race the pusher binding.
	coordinator.Start()

	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	logger.Infof("examscan %s listening on port %s", config.Version, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Infof("Received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	janitor.Stop()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown error: %v", err)
	}

	eb.Shutdown()

	if err := st.Close(); err != nil {
		logger.Errorf("Failed to close database: %v", err)
	}

	logger.Infof("examscan shutdown complete")
}
