package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/ingest"
	"github.com/edwardrichtofen115/subscout/internal/models"
	"github.com/edwardrichtofen115/subscout/internal/watch"
)

// AccountStore lists accounts for the periodic safety-net scan.
type AccountStore interface {
	ListAccounts() ([]models.Account, error)
	GetSettings(accountID uint) (*models.Settings, error)
}

// Sweeper runs the periodic maintenance pass: renew expiring inbox
// watches, then run a recency-mode scan over every enabled account to
// pick up messages skipped by crashed cursor runs.
type Sweeper struct {
	cron         *cron.Cron
	entryID      cron.EntryID
	cfg          *config.WatchConfig
	store        AccountStore
	watches      *watch.Manager
	orchestrator *ingest.Orchestrator
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	isRunning    bool
	mu           sync.RWMutex
}

// NewSweeper creates a new sweeper
func NewSweeper(cfg *config.WatchConfig, store AccountStore, watches *watch.Manager, orchestrator *ingest.Orchestrator) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())

	return &Sweeper{
		cron:         cron.New(cron.WithSeconds()),
		cfg:          cfg,
		store:        store,
		watches:      watches,
		orchestrator: orchestrator,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the sweeper
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("sweeper is already running")
	}

	// A restart after Stop needs a fresh context.
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.cfg.SweepIntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Sweeper started with interval: %d minutes", s.cfg.SweepIntervalMinutes)
	return nil
}

// Stop stops the sweeper
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Sweeper stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Sweeper stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the sweeper is running
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// sweep is the maintenance function that runs periodically
func (s *Sweeper) sweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Sweeper not running, skipping sweep")
		return
	}
	s.mu.RUnlock()

	logrus.Info("Starting maintenance sweep")
	startTime := time.Now()

	results, err := s.watches.RenewExpiring(s.ctx)
	if err != nil {
		logrus.Errorf("Watch renewal pass failed: %v", err)
	} else {
		renewed := 0
		for _, r := range results {
			if r.Renewed {
				renewed++
			}
		}
		logrus.Infof("Watch renewal pass completed: %d/%d renewed", renewed, len(results))
	}

	s.safetyScan()

	logrus.Infof("Maintenance sweep completed in %v", time.Since(startTime))
}

// safetyScan runs a recency-mode ingestion over every enabled account.
// The dedup ledger makes this cheap when nothing was missed.
func (s *Sweeper) safetyScan() {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		logrus.Errorf("Failed to list accounts for safety scan: %v", err)
		return
	}

	for i := range accounts {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		settings, err := s.store.GetSettings(accounts[i].ID)
		if err != nil {
			logrus.Errorf("Failed to load settings for %s: %v", accounts[i].Email, err)
			continue
		}
		if settings == nil || !settings.MonitoringEnabled {
			continue
		}

		if _, err := s.orchestrator.Run(s.ctx, accounts[i].Email, ingest.Options{Mode: ingest.ModeRecency}); err != nil {
			logrus.Errorf("Safety scan failed for %s: %v", accounts[i].Email, err)
		}
	}
}

// RunOnce runs the maintenance sweep once (for manual triggering)
func (s *Sweeper) RunOnce() error {
	logrus.Info("Running maintenance sweep once")
	s.sweep()
	return nil
}

// GetNextRun returns the time of the next scheduled sweep
func (s *Sweeper) GetNextRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last sweep
func (s *Sweeper) GetLastRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait waits for in-flight sweeps to finish
func (s *Sweeper) Wait() {
	s.wg.Wait()
}
