package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/edwardrichtofen115/subscout/internal/calendar"
	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/ingest"
	"github.com/edwardrichtofen115/subscout/internal/metrics"
	"github.com/edwardrichtofen115/subscout/internal/models"
	"github.com/edwardrichtofen115/subscout/internal/watch"
)

// Store is the slice of the repository the HTTP layer reads and writes.
type Store interface {
	GetAccountByEmail(email string) (*models.Account, error)
	GetAccountByID(id uint) (*models.Account, error)
	GetSettings(accountID uint) (*models.Settings, error)
	SaveSettings(settings *models.Settings) error
	GetSubscriptionByID(id uint) (*models.Subscription, error)
	ListSubscriptions(accountID uint) ([]models.Subscription, error)
	UpdateSubscription(sub *models.Subscription) error
	DeleteSubscription(id uint) error
}

// IngestRunner runs the ingestion pipeline for one account.
type IngestRunner interface {
	Run(ctx context.Context, email string, opts ingest.Options) (*ingest.Summary, error)
}

// WatchManager drives the watch lifecycle from settings changes and the
// renewal endpoint.
type WatchManager interface {
	Enable(ctx context.Context, account *models.Account) error
	Disable(ctx context.Context, account *models.Account) error
	RenewExpiring(ctx context.Context) ([]watch.RenewalResult, error)
}

// TokenProvider yields a valid credential for an account.
type TokenProvider interface {
	ValidToken(ctx context.Context, account *models.Account) (*oauth2.Token, error)
}

// SweepStatus exposes the in-process sweeper state for health reporting.
type SweepStatus interface {
	IsRunning() bool
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	db           *gorm.DB
	store        Store
	orchestrator IngestRunner
	watches      WatchManager
	tokens       TokenProvider
	newScheduler ingest.SchedulerFactory
	sweeper      SweepStatus
	metrics      *metrics.Metrics
	secrets      config.SecretsConfig
	reminderCfg  config.ReminderConfig
}

// NewHandlers creates new HTTP handlers
func NewHandlers(
	db *gorm.DB,
	store Store,
	orchestrator IngestRunner,
	watches WatchManager,
	tokens TokenProvider,
	newScheduler ingest.SchedulerFactory,
	sweeper SweepStatus,
	m *metrics.Metrics,
	secrets config.SecretsConfig,
	reminderCfg config.ReminderConfig,
) *Handlers {
	return &Handlers{
		db:           db,
		store:        store,
		orchestrator: orchestrator,
		watches:      watches,
		tokens:       tokens,
		newScheduler: newScheduler,
		sweeper:      sweeper,
		metrics:      m,
		secrets:      secrets,
		reminderCfg:  reminderCfg,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Notification intake and internal triggers
	router.POST("/webhook/gmail", h.GmailWebhook)
	router.POST("/internal/renew", h.RenewWatches)

	api := router.Group("/api/v1")
	{
		api.POST("/sync", h.ManualSync)
		api.POST("/debug/scan", h.DebugScan)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)

		api.GET("/subscriptions", h.ListSubscriptions)
		api.GET("/subscriptions/:id", h.GetSubscription)
		api.PATCH("/subscriptions/:id", h.UpdateSubscription)
		api.DELETE("/subscriptions/:id", h.DeleteSubscription)
	}
}

// reminderScheduler builds a per-account calendar scheduler, used by the
// subscription mutation endpoints. Returns nil when no credential or
// scheduler is available; callers treat that as a tolerated failure.
func (h *Handlers) reminderScheduler(ctx context.Context, accountID uint) calendar.Scheduler {
	account, err := h.store.GetAccountByID(accountID)
	if err != nil || account == nil {
		return nil
	}
	token, err := h.tokens.ValidToken(ctx, account)
	if err != nil {
		return nil
	}
	scheduler, err := h.newScheduler(ctx, token)
	if err != nil {
		return nil
	}
	return scheduler
}
