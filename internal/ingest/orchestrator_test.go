package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/edwardrichtofen115/subscout/internal/calendar"
	"github.com/edwardrichtofen115/subscout/internal/classifier"
	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/gmail"
	"github.com/edwardrichtofen115/subscout/internal/metrics"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = metrics.NewMetrics()

type fakeStore struct {
	account       *models.Account
	settings      *models.Settings
	cursorUpdates []string
	ledger        map[string]bool
	subsBySubject map[string]*models.Subscription
	created       []*models.Subscription
	lastSync      time.Time
	markErr       map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		account: &models.Account{
			ID:            1,
			Email:         "u@x.com",
			AccessToken:   "tok",
			TokenExpiry:   time.Now().Add(time.Hour),
			HistoryCursor: "90",
		},
		settings:      &models.Settings{AccountID: 1, ReminderLeadDays: 3, MonitoringEnabled: true},
		ledger:        make(map[string]bool),
		subsBySubject: make(map[string]*models.Subscription),
		markErr:       make(map[string]error),
	}
}

func (s *fakeStore) GetAccountByEmail(email string) (*models.Account, error) {
	if s.account != nil && s.account.Email == email {
		return s.account, nil
	}
	return nil, nil
}

func (s *fakeStore) GetSettings(accountID uint) (*models.Settings, error) {
	return s.settings, nil
}

func (s *fakeStore) UpdateAccountCursor(id uint, cursor string) error {
	s.cursorUpdates = append(s.cursorUpdates, cursor)
	s.account.HistoryCursor = cursor
	return nil
}

func (s *fakeStore) UpdateLastSync(id uint, t time.Time) error {
	s.lastSync = t
	return nil
}

func (s *fakeStore) FilterProcessedMessageIDs(accountID uint, messageIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range messageIDs {
		if s.ledger[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s *fakeStore) MarkMessageProcessed(accountID uint, messageID string, isSubscription bool) error {
	if err := s.markErr[messageID]; err != nil {
		return err
	}
	s.ledger[messageID] = true
	return nil
}

func (s *fakeStore) FindSubscriptionBySubject(accountID uint, subject string) (*models.Subscription, error) {
	return s.subsBySubject[subject], nil
}

func (s *fakeStore) CreateSubscription(sub *models.Subscription) error {
	s.created = append(s.created, sub)
	s.subsBySubject[sub.Subject] = sub
	return nil
}

type fakeSource struct {
	recent      []gmail.Message
	resolved    []gmail.Message
	newCursor   string
	resolveErr  error
	recentCalls int
}

func (f *fakeSource) ListRecent(ctx context.Context, limit int) ([]gmail.Message, error) {
	f.recentCalls++
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeSource) ResolveSince(ctx context.Context, cursor string) ([]gmail.Message, string, error) {
	return f.resolved, f.newCursor, f.resolveErr
}

type fakeTokens struct {
	err error
}

func (f *fakeTokens) ValidToken(ctx context.Context, account *models.Account) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "tok"}, nil
}

type fakeClassifier struct {
	fn    func(input classifier.Input) (classifier.Classification, error)
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, input classifier.Input) (classifier.Classification, error) {
	f.calls++
	return f.fn(input)
}

type fakeScheduler struct {
	eventID string
	err     error
	created []calendar.Reminder
}

func (f *fakeScheduler) CreateReminder(ctx context.Context, r calendar.Reminder) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, r)
	return f.eventID, nil
}

func (f *fakeScheduler) UpdateReminder(ctx context.Context, eventID string, r calendar.Reminder) error {
	return f.err
}

func (f *fakeScheduler) DeleteReminder(ctx context.Context, eventID string) error {
	return f.err
}

func testConfig() (config.IngestConfig, config.ReminderConfig) {
	return config.IngestConfig{
			BatchSize:           10,
			ConfidenceThreshold: 0.70,
			RecentLimit:         20,
			DefaultTrialDays:    14,
		}, config.ReminderConfig{
			DefaultLeadDays: 3,
			MinLeadDays:     1,
			MaxLeadDays:     14,
		}
}

func newTestOrchestrator(store *fakeStore, source *fakeSource, cls *fakeClassifier, sched *fakeScheduler) *Orchestrator {
	ingestCfg, reminderCfg := testConfig()
	return NewOrchestrator(
		store,
		&fakeTokens{},
		func(ctx context.Context, token *oauth2.Token) (Source, error) { return source, nil },
		func(ctx context.Context, token *oauth2.Token) (calendar.Scheduler, error) { return sched, nil },
		cls,
		testMetrics,
		ingestCfg,
		reminderCfg,
	)
}

func message(id, subject string) gmail.Message {
	return gmail.Message{
		ID:       id,
		Subject:  subject,
		From:     "billing@service.example",
		Body:     "Your trial has started.",
		Labels:   []string{"INBOX"},
		Received: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func negativeClassifier() *fakeClassifier {
	return &fakeClassifier{fn: func(input classifier.Input) (classifier.Classification, error) {
		return classifier.Classification{IsSubscription: false}, nil
	}}
}

func TestWebhookCursorAdvance(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{
		resolved:  []gmail.Message{message("m1", "Welcome to Acme"), message("m2", "Your receipt")},
		newCursor: "105",
	}
	o := newTestOrchestrator(store, source, negativeClassifier(), &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor, CursorHint: "100"})
	require.NoError(t, err)

	// The resolution cursor wins over the notification hint.
	assert.Equal(t, "105", store.account.HistoryCursor)
	assert.Equal(t, 2, summary.Processed)
	assert.True(t, store.ledger["m1"])
	assert.True(t, store.ledger["m2"])
	assert.False(t, store.lastSync.IsZero())
}

func TestStaleCursorFallsBackToHint(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{resolved: nil, newCursor: ""}
	o := newTestOrchestrator(store, source, negativeClassifier(), &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor, CursorHint: "100"})
	require.NoError(t, err)

	assert.Equal(t, "100", store.account.HistoryCursor)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Errors)
}

func TestCursorAdvancesBeforeClassification(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{resolved: []gmail.Message{message("m1", "Welcome")}, newCursor: "105"}

	cls := &fakeClassifier{fn: func(input classifier.Input) (classifier.Classification, error) {
		// By the time any message is classified the cursor must already
		// be persisted.
		assert.Equal(t, []string{"105"}, store.cursorUpdates)
		return classifier.Classification{}, nil
	}}
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{})

	_, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)
	assert.Equal(t, 1, cls.calls)
}

func TestDedupSkipsProcessedMessages(t *testing.T) {
	store := newFakeStore()
	store.ledger["m1"] = true
	source := &fakeSource{resolved: []gmail.Message{message("m1", "A"), message("m2", "B")}, newCursor: "105"}
	cls := negativeClassifier()
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, cls.calls)
}

func TestPromotionalMessagesFiltered(t *testing.T) {
	store := newFakeStore()
	promo := message("m1", "50% off everything")
	promo.Labels = []string{"INBOX", "CATEGORY_PROMOTIONS"}
	source := &fakeSource{resolved: []gmail.Message{promo, message("m2", "B")}, newCursor: "105"}
	cls := negativeClassifier()
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, cls.calls)
	assert.False(t, store.ledger["m1"])
}

func TestConfidenceGateBoundary(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{
		resolved: []gmail.Message{
			message("low", "Almost a subscription"),
			message("high", "Definitely a subscription"),
		},
		newCursor: "105",
	}
	cls := &fakeClassifier{fn: func(input classifier.Input) (classifier.Classification, error) {
		confidence := 0.69
		if input.Subject == "Definitely a subscription" {
			confidence = 0.70
		}
		return classifier.Classification{
			IsSubscription: true,
			Confidence:     confidence,
			ServiceName:    "Acme",
			Kind:           models.KindTrial,
		}, nil
	}}
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{eventID: "evt-1"})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	// The 0.70 boundary is inclusive.
	require.Len(t, store.created, 1)
	assert.Equal(t, "Definitely a subscription", store.created[0].Subject)
	assert.Equal(t, 1, summary.NewSubscriptions)
	assert.Equal(t, 2, summary.Processed)
}

func TestClassifierFailureDoesNotAbortSiblings(t *testing.T) {
	store := newFakeStore()
	var msgs []gmail.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, message(fmt.Sprintf("m%d", i), fmt.Sprintf("Subject %d", i)))
	}
	source := &fakeSource{resolved: msgs, newCursor: "105"}
	cls := &fakeClassifier{fn: func(input classifier.Input) (classifier.Classification, error) {
		if input.Subject == "Subject 5" {
			return classifier.Negative("boom"), fmt.Errorf("boom")
		}
		return classifier.Classification{}, nil
	}}
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	assert.Equal(t, 9, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	// The failed message stays out of the ledger so it can be retried.
	assert.False(t, store.ledger["m5"])
}

func TestReminderFailureStillCreatesSubscription(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{resolved: []gmail.Message{message("m1", "Trial started")}, newCursor: "105"}
	cls := &fakeClassifier{fn: func(input classifier.Input) (classifier.Classification, error) {
		return classifier.Classification{
			IsSubscription: true,
			Confidence:     0.95,
			ServiceName:    "Acme",
			Kind:           models.KindTrial,
		}, nil
	}}
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{err: fmt.Errorf("calendar unreachable")})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	assert.Nil(t, store.created[0].ReminderEventID)
	assert.Equal(t, 1, summary.NewSubscriptions)
	assert.Equal(t, 0, summary.Errors)
}

func TestSubjectUniquenessSuppressesDuplicate(t *testing.T) {
	store := newFakeStore()
	store.subsBySubject["Trial started"] = &models.Subscription{ID: 7, AccountID: 1, Subject: "Trial started"}
	source := &fakeSource{resolved: []gmail.Message{message("m9", "Trial started")}, newCursor: "105"}
	cls := &fakeClassifier{fn: func(input classifier.Input) (classifier.Classification, error) {
		return classifier.Classification{IsSubscription: true, Confidence: 0.9, ServiceName: "Acme"}, nil
	}}
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{eventID: "evt"})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	assert.Empty(t, store.created)
	assert.Equal(t, 0, summary.NewSubscriptions)
	// The message is still recorded as processed.
	assert.True(t, store.ledger["m9"])
}

func TestDisabledAccountIsNoop(t *testing.T) {
	store := newFakeStore()
	store.settings.MonitoringEnabled = false
	source := &fakeSource{resolved: []gmail.Message{message("m1", "A")}, newCursor: "105"}
	cls := negativeClassifier()
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeCursor})
	require.NoError(t, err)

	assert.True(t, summary.Skipped)
	assert.Equal(t, 0, cls.calls)
	assert.Equal(t, "90", store.account.HistoryCursor)
}

func TestNoTokenSkipsAccount(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}
	ingestCfg, reminderCfg := testConfig()
	o := NewOrchestrator(
		store,
		&fakeTokens{err: gmail.ErrNoToken},
		func(ctx context.Context, token *oauth2.Token) (Source, error) { return source, nil },
		func(ctx context.Context, token *oauth2.Token) (calendar.Scheduler, error) { return &fakeScheduler{}, nil },
		negativeClassifier(),
		testMetrics,
		ingestCfg,
		reminderCfg,
	)

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeRecency})
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
}

func TestUnknownAccount(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, &fakeSource{}, negativeClassifier(), &fakeScheduler{})

	_, err := o.Run(context.Background(), "nobody@x.com", Options{Mode: ModeRecency})
	assert.Equal(t, ErrUnknownAccount, err)
}

func TestRecencyModeUsesListRecent(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{recent: []gmail.Message{message("m1", "A")}}
	o := newTestOrchestrator(store, source, negativeClassifier(), &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{Mode: ModeRecency})
	require.NoError(t, err)

	assert.Equal(t, 1, source.recentCalls)
	assert.Equal(t, 1, summary.Processed)
	// Recency mode never touches the cursor.
	assert.Empty(t, store.cursorUpdates)
}

func TestDebugScanCollectsResults(t *testing.T) {
	store := newFakeStore()
	store.ledger["m1"] = true
	source := &fakeSource{recent: []gmail.Message{message("m1", "A")}}
	cls := negativeClassifier()
	o := newTestOrchestrator(store, source, cls, &fakeScheduler{})

	summary, err := o.Run(context.Background(), "u@x.com", Options{
		Mode:      ModeRecency,
		SkipDedup: true,
		Collect:   true,
	})
	require.NoError(t, err)

	// SkipDedup re-classifies an already-processed message.
	assert.Equal(t, 1, cls.calls)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "m1", summary.Results[0].MessageID)
}

func TestComputeEndDate(t *testing.T) {
	detected := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	// Explicit end date wins.
	end := ComputeEndDate(classifier.Classification{EndDate: "2026-02-01"}, detected, 14)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), end)

	// Declared duration from the detected date.
	end = ComputeEndDate(classifier.Classification{DurationDays: 14}, detected, 14)
	assert.Equal(t, time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC), end)

	// Default window when nothing is stated.
	end = ComputeEndDate(classifier.Classification{}, detected, 14)
	assert.Equal(t, time.Date(2026, 1, 24, 0, 0, 0, 0, time.UTC), end)

	// An unparseable explicit date falls through to the duration.
	end = ComputeEndDate(classifier.Classification{EndDate: "soon", DurationDays: 7}, detected, 14)
	assert.Equal(t, time.Date(2026, 1, 17, 0, 0, 0, 0, time.UTC), end)
}
