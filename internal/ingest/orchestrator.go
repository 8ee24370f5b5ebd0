package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/edwardrichtofen115/subscout/internal/calendar"
	"github.com/edwardrichtofen115/subscout/internal/classifier"
	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/gmail"
	"github.com/edwardrichtofen115/subscout/internal/metrics"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// ErrUnknownAccount is returned when no account exists for the mailbox.
var ErrUnknownAccount = errors.New("unknown account")

// Mode selects how candidate messages are resolved.
type Mode int

const (
	// ModeCursor resolves changes since the account's persisted cursor.
	ModeCursor Mode = iota
	// ModeRecency lists the most recent inbox messages, used by manual
	// and diagnostic triggers and as the safety net for skipped windows.
	ModeRecency
)

// Options parameterize a single ingestion run.
type Options struct {
	Mode        Mode
	CursorHint  string // notification-supplied cursor, used when resolution returns none
	RecentLimit int    // 0 means the configured default
	SkipDedup   bool   // diagnostic runs only
	Collect     bool   // include per-message results in the summary
}

// Summary aggregates the outcome of one run.
type Summary struct {
	Processed        int             `json:"processed"`
	Duplicates       int             `json:"duplicates"`
	NewSubscriptions int             `json:"new_subscriptions"`
	Errors           int             `json:"errors"`
	Skipped          bool            `json:"skipped,omitempty"` // disabled account or no token
	Results          []MessageResult `json:"results,omitempty"`
}

// MessageResult is a per-message classification outcome for diagnostics.
type MessageResult struct {
	MessageID      string                    `json:"message_id"`
	Subject        string                    `json:"subject"`
	Classification classifier.Classification `json:"classification"`
	Error          string                    `json:"error,omitempty"`
}

// Store is the slice of the repository the orchestrator writes through.
type Store interface {
	GetAccountByEmail(email string) (*models.Account, error)
	GetSettings(accountID uint) (*models.Settings, error)
	UpdateAccountCursor(id uint, cursor string) error
	UpdateLastSync(id uint, t time.Time) error
	FilterProcessedMessageIDs(accountID uint, messageIDs []string) (map[string]bool, error)
	MarkMessageProcessed(accountID uint, messageID string, isSubscription bool) error
	FindSubscriptionBySubject(accountID uint, subject string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
}

// TokenProvider yields a valid credential for an account.
type TokenProvider interface {
	ValidToken(ctx context.Context, account *models.Account) (*oauth2.Token, error)
}

// Source is the message source view the pipeline consumes.
type Source interface {
	ListRecent(ctx context.Context, limit int) ([]gmail.Message, error)
	ResolveSince(ctx context.Context, cursor string) ([]gmail.Message, string, error)
}

// SourceFactory builds a per-run source carrying the account's credential.
type SourceFactory func(ctx context.Context, token *oauth2.Token) (Source, error)

// SchedulerFactory builds a per-run reminder scheduler the same way.
type SchedulerFactory func(ctx context.Context, token *oauth2.Token) (calendar.Scheduler, error)

// Orchestrator drives the full ingestion pipeline: resolve, filter,
// deduplicate, classify in bounded batches, materialize. Every entry
// point (webhook, manual sync, sweep, diagnostics) converges here.
type Orchestrator struct {
	store        Store
	tokens       TokenProvider
	newSource    SourceFactory
	newScheduler SchedulerFactory
	classifier   classifier.Classifier
	metrics      *metrics.Metrics
	ingestCfg    config.IngestConfig
	reminderCfg  config.ReminderConfig
}

func NewOrchestrator(
	store Store,
	tokens TokenProvider,
	newSource SourceFactory,
	newScheduler SchedulerFactory,
	cls classifier.Classifier,
	m *metrics.Metrics,
	ingestCfg config.IngestConfig,
	reminderCfg config.ReminderConfig,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		tokens:       tokens,
		newSource:    newSource,
		newScheduler: newScheduler,
		classifier:   cls,
		metrics:      m,
		ingestCfg:    ingestCfg,
		reminderCfg:  reminderCfg,
	}
}

// Run executes one ingestion run for the given mailbox.
func (o *Orchestrator) Run(ctx context.Context, email string, opts Options) (*Summary, error) {
	start := time.Now()
	o.metrics.IngestRuns.Inc()
	defer func() {
		o.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	summary := &Summary{}

	account, err := o.store.GetAccountByEmail(email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUnknownAccount
	}

	settings, err := o.store.GetSettings(account.ID)
	if err != nil {
		return nil, err
	}
	if settings == nil || !settings.MonitoringEnabled {
		logrus.WithField("account", email).Debug("Monitoring disabled, skipping run")
		summary.Skipped = true
		return summary, nil
	}

	token, err := o.tokens.ValidToken(ctx, account)
	if err != nil {
		// No usable token means this account is skipped, not failed.
		logrus.WithField("account", email).Warn("No usable token, skipping run")
		o.metrics.AccountsSkipped.Inc()
		summary.Skipped = true
		return summary, nil
	}

	source, err := o.newSource(ctx, token)
	if err != nil {
		return nil, err
	}

	messages, err := o.resolve(ctx, source, account, opts)
	if err != nil {
		return nil, err
	}

	candidates, err := o.dedup(account, messages, opts.SkipDedup, summary)
	if err != nil {
		return nil, err
	}

	o.classifyAndMaterialize(ctx, token, account, settings, candidates, opts, summary)

	if err := o.store.UpdateLastSync(account.ID, time.Now()); err != nil {
		logrus.Errorf("Failed to update last sync for account %s: %v", email, err)
	}

	logrus.WithFields(logrus.Fields{
		"account":           email,
		"processed":         summary.Processed,
		"duplicates":        summary.Duplicates,
		"new_subscriptions": summary.NewSubscriptions,
		"errors":            summary.Errors,
	}).Info("Ingestion run completed")

	return summary, nil
}

// resolve produces the candidate message set. In cursor mode the new
// cursor is persisted before any message is classified: notification
// delivery is at-least-once, and advancing first guarantees a crashed run
// is never reprocessed from the same stale point. The cost is possible
// message skip on crash, mitigated by recency-mode runs.
func (o *Orchestrator) resolve(ctx context.Context, source Source, account *models.Account, opts Options) ([]gmail.Message, error) {
	if opts.Mode == ModeRecency {
		limit := opts.RecentLimit
		if limit <= 0 {
			limit = o.ingestCfg.RecentLimit
		}
		return source.ListRecent(ctx, limit)
	}

	messages, newCursor, err := source.ResolveSince(ctx, account.HistoryCursor)
	if err != nil {
		return nil, err
	}

	if newCursor == "" {
		// Stale cursor; fall back to the notification's own hint so the
		// cursor still advances past the dead window.
		newCursor = opts.CursorHint
	}
	if newCursor != "" && newCursor != account.HistoryCursor {
		if err := o.store.UpdateAccountCursor(account.ID, newCursor); err != nil {
			return nil, err
		}
		account.HistoryCursor = newCursor
	}

	return messages, nil
}

// dedup drops promotional messages and anything already in the ledger,
// using one batch lookup for the whole candidate set.
func (o *Orchestrator) dedup(account *models.Account, messages []gmail.Message, skip bool, summary *Summary) ([]gmail.Message, error) {
	var primary []gmail.Message
	for i := range messages {
		if messages[i].Primary() {
			primary = append(primary, messages[i])
		}
	}

	if skip || len(primary) == 0 {
		return primary, nil
	}

	ids := make([]string, len(primary))
	for i := range primary {
		ids[i] = primary[i].ID
	}

	processed, err := o.store.FilterProcessedMessageIDs(account.ID, ids)
	if err != nil {
		return nil, err
	}

	var fresh []gmail.Message
	for i := range primary {
		if processed[primary[i].ID] {
			summary.Duplicates++
			o.metrics.DuplicatesSkipped.Inc()
			continue
		}
		fresh = append(fresh, primary[i])
	}
	return fresh, nil
}

// classified pairs a message with its classification outcome.
type classified struct {
	msg gmail.Message
	cls classifier.Classification
	err error
}

// classifyAndMaterialize classifies candidates in fixed-size concurrent
// batches and persists the outcome of each. Classification is the only
// concurrent stage; all writes happen sequentially after each batch, and
// one message's failure never aborts its siblings.
func (o *Orchestrator) classifyAndMaterialize(
	ctx context.Context,
	token *oauth2.Token,
	account *models.Account,
	settings *models.Settings,
	candidates []gmail.Message,
	opts Options,
	summary *Summary,
) {
	var scheduler calendar.Scheduler

	batchSize := o.ingestCfg.BatchSize
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		results := make([]classified, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				msg := batch[i]
				cls, err := o.classifier.Classify(ctx, classifier.Input{
					Subject:  msg.Subject,
					From:     msg.From,
					Body:     msg.Body,
					Received: msg.Received,
				})
				results[i] = classified{msg: msg, cls: cls, err: err}
			}(i)
		}
		wg.Wait()

		for _, result := range results {
			scheduler = o.materialize(ctx, token, account, settings, result, opts, summary, scheduler)
		}
	}
}

// materialize records one classification outcome: the ledger entry first,
// then the subscription and its reminder if the classification qualifies.
func (o *Orchestrator) materialize(
	ctx context.Context,
	token *oauth2.Token,
	account *models.Account,
	settings *models.Settings,
	result classified,
	opts Options,
	summary *Summary,
	scheduler calendar.Scheduler,
) calendar.Scheduler {
	msg := result.msg

	if opts.Collect {
		mr := MessageResult{MessageID: msg.ID, Subject: msg.Subject, Classification: result.cls}
		if result.err != nil {
			mr.Error = result.err.Error()
		}
		summary.Results = append(summary.Results, mr)
	}

	if result.err != nil {
		// The message stays out of the ledger so a later run can retry it.
		summary.Errors++
		o.metrics.ClassificationErrors.Inc()
		return scheduler
	}

	qualifies := result.cls.IsSubscription && result.cls.Confidence >= o.ingestCfg.ConfidenceThreshold

	if err := o.store.MarkMessageProcessed(account.ID, msg.ID, qualifies); err != nil {
		logrus.Errorf("Failed to record processed message %s: %v", msg.ID, err)
		summary.Errors++
		return scheduler
	}
	summary.Processed++
	o.metrics.MessagesProcessed.Inc()

	if !qualifies {
		return scheduler
	}

	existing, err := o.store.FindSubscriptionBySubject(account.ID, msg.Subject)
	if err != nil {
		logrus.Errorf("Failed to look up subscription for message %s: %v", msg.ID, err)
		summary.Errors++
		return scheduler
	}
	if existing != nil {
		// Same subject already materialized for this account.
		return scheduler
	}

	endDate := ComputeEndDate(result.cls, msg.Received, o.ingestCfg.DefaultTrialDays)
	kind := result.cls.Kind
	if kind != models.KindTrial {
		kind = models.KindSubscription
	}

	var reminderEventID *string
	if scheduler == nil {
		if scheduler, err = o.newScheduler(ctx, token); err != nil {
			logrus.Errorf("Failed to create reminder scheduler: %v", err)
			scheduler = nil
		}
	}
	if scheduler != nil {
		eventID, err := scheduler.CreateReminder(ctx, calendar.Reminder{
			ServiceName: result.cls.ServiceName,
			Kind:        kind,
			EndDate:     endDate,
			LeadDays:    o.leadDays(settings),
		})
		if err != nil {
			// Non-fatal: the subscription is still written without a reminder.
			logrus.Errorf("Failed to create reminder for message %s: %v", msg.ID, err)
		} else if eventID != "" {
			reminderEventID = &eventID
		}
	}

	sub := &models.Subscription{
		AccountID:       account.ID,
		ServiceName:     result.cls.ServiceName,
		Kind:            kind,
		DetectedDate:    msg.Received,
		EndDate:         &endDate,
		ReminderEventID: reminderEventID,
		Status:          models.StatusActive,
		Subject:         msg.Subject,
		Snippet:         msg.Snippet,
		Confidence:      result.cls.Confidence,
	}
	if err := o.store.CreateSubscription(sub); err != nil {
		logrus.Errorf("Failed to create subscription for message %s: %v", msg.ID, err)
		summary.Errors++
		return scheduler
	}

	summary.NewSubscriptions++
	o.metrics.SubscriptionsCreated.Inc()
	return scheduler
}

// leadDays returns the account's reminder lead time clamped to the
// configured bounds.
func (o *Orchestrator) leadDays(settings *models.Settings) int {
	days := settings.ReminderLeadDays
	if days < o.reminderCfg.MinLeadDays {
		days = o.reminderCfg.DefaultLeadDays
	}
	if days > o.reminderCfg.MaxLeadDays {
		days = o.reminderCfg.MaxLeadDays
	}
	return days
}

// ComputeEndDate derives a subscription's end date from a classification:
// an explicit end date wins, then detected date plus declared duration,
// then detected date plus the default window.
func ComputeEndDate(cls classifier.Classification, detected time.Time, defaultDays int) time.Time {
	if cls.EndDate != "" {
		if parsed, err := time.Parse("2006-01-02", cls.EndDate); err == nil {
			return parsed
		}
		logrus.Warnf("Unparseable end date %q in classification, falling back", cls.EndDate)
	}
	if cls.DurationDays > 0 {
		return detected.AddDate(0, 0, cls.DurationDays)
	}
	return detected.AddDate(0, 0, defaultDays)
}
