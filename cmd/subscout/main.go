package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/edwardrichtofen115/subscout/internal/calendar"
	"github.com/edwardrichtofen115/subscout/internal/classifier"
	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/db"
	"github.com/edwardrichtofen115/subscout/internal/gmail"
	"github.com/edwardrichtofen115/subscout/internal/handlers"
	"github.com/edwardrichtofen115/subscout/internal/ingest"
	"github.com/edwardrichtofen115/subscout/internal/metrics"
	"github.com/edwardrichtofen115/subscout/internal/repository"
	"github.com/edwardrichtofen115/subscout/internal/router"
	"github.com/edwardrichtofen115/subscout/internal/scheduler"
	"github.com/edwardrichtofen115/subscout/internal/watch"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Subscout Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	database, err := db.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize metrics and repository
	m := metrics.NewMetrics()
	repo := repository.New(database)

	// Per-account credential plumbing; API clients are built per run so
	// credential scope stays explicit.
	tokens := gmail.NewTokenProvider(&cfg.Google, repo)
	newSource := func(ctx context.Context, token *oauth2.Token) (ingest.Source, error) {
		return gmail.NewClient(ctx, token)
	}
	newWatchSource := func(ctx context.Context, token *oauth2.Token) (watch.Source, error) {
		return gmail.NewClient(ctx, token)
	}
	newScheduler := func(ctx context.Context, token *oauth2.Token) (calendar.Scheduler, error) {
		return calendar.NewGoogleScheduler(ctx, token, cfg.Google.CalendarID)
	}

	// Initialize classifier
	cls := classifier.NewOpenAIClassifier(&cfg.OpenAI)

	// Initialize ingestion orchestrator
	orchestrator := ingest.NewOrchestrator(repo, tokens, newSource, newScheduler, cls, m, cfg.Ingest, cfg.Reminder)

	// Initialize watch lifecycle manager
	renewalWindow := time.Duration(cfg.Watch.RenewalWindowHours) * time.Hour
	watches := watch.NewManager(repo, tokens, newWatchSource, m, cfg.Google.PubSubTopic, renewalWindow)

	// Initialize maintenance sweeper
	sweeper := scheduler.NewSweeper(&cfg.Watch, repo, watches, orchestrator)

	// Initialize HTTP handlers and server
	h := handlers.NewHandlers(database, repo, orchestrator, watches, tokens, newScheduler, sweeper, m, cfg.Secrets, cfg.Reminder)
	engine := router.Setup(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start sweeper
	if err := sweeper.Start(); err != nil {
		logrus.Fatalf("Failed to start sweeper: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop sweeper and wait for in-flight work
	if err := sweeper.Stop(); err != nil {
		logrus.Errorf("Failed to stop sweeper: %v", err)
	}
	sweeper.Wait()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}
