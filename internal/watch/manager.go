package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/edwardrichtofen115/subscout/internal/metrics"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// Store is the slice of the repository the watch manager writes through.
// Cursor and watch expiry are shared with the ingestion pipeline, so both
// go through the same contract.
type Store interface {
	ListAccountsWatchExpiring(before time.Time) ([]models.Account, error)
	UpdateAccountWatch(id uint, cursor string, expiry *time.Time) error
	UpdateWatchExpiry(id uint, expiry time.Time) error
}

// TokenProvider yields a valid credential for an account.
type TokenProvider interface {
	ValidToken(ctx context.Context, account *models.Account) (*oauth2.Token, error)
}

// Source is the watch-registration view of the mailbox API.
type Source interface {
	RegisterWatch(ctx context.Context, topic string) (string, time.Time, error)
	StopWatch(ctx context.Context) error
}

// SourceFactory builds a per-account source carrying its credential.
type SourceFactory func(ctx context.Context, token *oauth2.Token) (Source, error)

// RenewalResult is the per-account outcome of a renewal sweep.
type RenewalResult struct {
	Email   string `json:"email"`
	Renewed bool   `json:"renewed"`
	Error   string `json:"error,omitempty"`
}

// Manager sets up, tears down, and renews inbox change watches.
type Manager struct {
	store         Store
	tokens        TokenProvider
	newSource     SourceFactory
	metrics       *metrics.Metrics
	topic         string
	renewalWindow time.Duration
}

func NewManager(store Store, tokens TokenProvider, newSource SourceFactory, m *metrics.Metrics, topic string, renewalWindow time.Duration) *Manager {
	return &Manager{
		store:         store,
		tokens:        tokens,
		newSource:     newSource,
		metrics:       m,
		topic:         topic,
		renewalWindow: renewalWindow,
	}
}

// Enable registers a watch for the account and persists the returned
// cursor and expiry. Unlike ingestion runs, enabling without a usable
// credential is a real error surfaced to the caller.
func (m *Manager) Enable(ctx context.Context, account *models.Account) error {
	token, err := m.tokens.ValidToken(ctx, account)
	if err != nil {
		return fmt.Errorf("cannot enable monitoring for %s: %w", account.Email, err)
	}

	source, err := m.newSource(ctx, token)
	if err != nil {
		return err
	}

	cursor, expiry, err := source.RegisterWatch(ctx, m.topic)
	if err != nil {
		return err
	}

	if err := m.store.UpdateAccountWatch(account.ID, cursor, &expiry); err != nil {
		return err
	}

	account.HistoryCursor = cursor
	account.WatchExpiry = &expiry
	logrus.WithFields(logrus.Fields{
		"account": account.Email,
		"expiry":  expiry.Format(time.RFC3339),
	}).Info("Inbox watch registered")
	return nil
}

// Disable deregisters the watch and clears the account's cursor and
// expiry. Teardown is best-effort: local state is cleared even when the
// remote stop call fails.
func (m *Manager) Disable(ctx context.Context, account *models.Account) error {
	token, err := m.tokens.ValidToken(ctx, account)
	if err != nil {
		logrus.Warnf("No token to stop watch for %s, clearing local state only", account.Email)
	} else {
		source, err := m.newSource(ctx, token)
		if err == nil {
			if err := source.StopWatch(ctx); err != nil {
				logrus.Warnf("Failed to stop watch for %s: %v", account.Email, err)
			}
		}
	}

	if err := m.store.UpdateAccountWatch(account.ID, "", nil); err != nil {
		return err
	}

	account.HistoryCursor = ""
	account.WatchExpiry = nil
	logrus.WithField("account", account.Email).Info("Inbox watch deregistered")
	return nil
}

// RenewExpiring re-registers the watch for every account inside the
// renewal window. One account's failure never blocks the others.
func (m *Manager) RenewExpiring(ctx context.Context) ([]RenewalResult, error) {
	accounts, err := m.store.ListAccountsWatchExpiring(time.Now().Add(m.renewalWindow))
	if err != nil {
		return nil, err
	}

	results := make([]RenewalResult, 0, len(accounts))
	for i := range accounts {
		account := accounts[i]
		result := RenewalResult{Email: account.Email}

		if err := m.renew(ctx, &account); err != nil {
			logrus.Errorf("Failed to renew watch for %s: %v", account.Email, err)
			m.metrics.WatchRenewalFailures.Inc()
			result.Error = err.Error()
		} else {
			m.metrics.WatchRenewals.Inc()
			result.Renewed = true
		}
		results = append(results, result)
	}
	return results, nil
}

// renew re-registers one account's watch, sliding the expiry forward. The
// existing cursor is kept so no change window is skipped; the fresh
// cursor is only adopted when the account has none.
func (m *Manager) renew(ctx context.Context, account *models.Account) error {
	token, err := m.tokens.ValidToken(ctx, account)
	if err != nil {
		return err
	}

	source, err := m.newSource(ctx, token)
	if err != nil {
		return err
	}

	cursor, expiry, err := source.RegisterWatch(ctx, m.topic)
	if err != nil {
		return err
	}

	if account.HistoryCursor == "" {
		return m.store.UpdateAccountWatch(account.ID, cursor, &expiry)
	}
	return m.store.UpdateWatchExpiry(account.ID, expiry)
}
