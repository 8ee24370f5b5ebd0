package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edwardrichtofen115/subscout/internal/models"
)

// Repository wraps all database access behind a narrow contract. Lookups
// that find nothing return (nil, nil) rather than an error.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetAccountByEmail returns the account for a mailbox address, or nil if
// the address is not connected.
func (r *Repository) GetAccountByEmail(email string) (*models.Account, error) {
	var account models.Account
	result := r.db.Where("email = ?", email).First(&account)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error looking up account: %w", result.Error)
	}
	return &account, nil
}

func (r *Repository) GetAccountByID(id uint) (*models.Account, error) {
	var account models.Account
	result := r.db.First(&account, id)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error looking up account: %w", result.Error)
	}
	return &account, nil
}

func (r *Repository) ListAccounts() ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ListAccountsWatchExpiring returns accounts whose watch expires before the
// given deadline. Accounts with no watch registered are excluded.
func (r *Repository) ListAccountsWatchExpiring(before time.Time) ([]models.Account, error) {
	var accounts []models.Account
	result := r.db.Where("watch_expiry IS NOT NULL AND watch_expiry <= ?", before).Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list expiring watches: %w", result.Error)
	}
	return accounts, nil
}

func (r *Repository) UpdateAccountToken(id uint, accessToken string, expiry time.Time) error {
	result := r.db.Model(&models.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update account token: %w", result.Error)
	}
	return nil
}

func (r *Repository) UpdateAccountCursor(id uint, cursor string) error {
	result := r.db.Model(&models.Account{}).Where("id = ?", id).Update("history_cursor", cursor)
	if result.Error != nil {
		return fmt.Errorf("failed to update account cursor: %w", result.Error)
	}
	return nil
}

// UpdateAccountWatch writes the cursor and watch expiry together. A nil
// expiry with an empty cursor clears the watch state entirely.
func (r *Repository) UpdateAccountWatch(id uint, cursor string, expiry *time.Time) error {
	result := r.db.Model(&models.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"history_cursor": cursor,
		"watch_expiry":   expiry,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update account watch state: %w", result.Error)
	}
	return nil
}

// UpdateWatchExpiry slides the watch expiry forward without touching the
// cursor, used by renewals.
func (r *Repository) UpdateWatchExpiry(id uint, expiry time.Time) error {
	result := r.db.Model(&models.Account{}).Where("id = ?", id).Update("watch_expiry", expiry)
	if result.Error != nil {
		return fmt.Errorf("failed to update watch expiry: %w", result.Error)
	}
	return nil
}

func (r *Repository) UpdateLastSync(id uint, t time.Time) error {
	result := r.db.Model(&models.Account{}).Where("id = ?", id).Update("last_sync_at", t)
	if result.Error != nil {
		return fmt.Errorf("failed to update last sync: %w", result.Error)
	}
	return nil
}

func (r *Repository) GetSettings(accountID uint) (*models.Settings, error) {
	var settings models.Settings
	result := r.db.Where("account_id = ?", accountID).First(&settings)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error looking up settings: %w", result.Error)
	}
	return &settings, nil
}

func (r *Repository) SaveSettings(settings *models.Settings) error {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reminder_lead_days", "monitoring_enabled", "updated_at"}),
	}).Create(settings)
	if result.Error != nil {
		return fmt.Errorf("failed to save settings: %w", result.Error)
	}
	return nil
}

func (r *Repository) IsMessageProcessed(accountID uint, messageID string) (bool, error) {
	var processed models.ProcessedMessage
	result := r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).First(&processed)
	if result.Error == nil {
		return true, nil
	}
	if result.Error == gorm.ErrRecordNotFound {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed message: %w", result.Error)
}

// FilterProcessedMessageIDs returns the subset of the given message ids
// already present in the ledger, in a single query.
func (r *Repository) FilterProcessedMessageIDs(accountID uint, messageIDs []string) (map[string]bool, error) {
	processed := make(map[string]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return processed, nil
	}

	var ids []string
	result := r.db.Model(&models.ProcessedMessage{}).
		Where("account_id = ? AND message_id IN ?", accountID, messageIDs).
		Pluck("message_id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("database error filtering processed messages: %w", result.Error)
	}

	for _, id := range ids {
		processed[id] = true
	}
	return processed, nil
}

// MarkMessageProcessed inserts a ledger record. A concurrent run inserting
// the same (account, message) pair no-ops instead of failing.
func (r *Repository) MarkMessageProcessed(accountID uint, messageID string, isSubscription bool) error {
	record := models.ProcessedMessage{
		AccountID:      accountID,
		MessageID:      messageID,
		IsSubscription: isSubscription,
		ProcessedAt:    time.Now(),
	}
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("failed to mark message as processed: %w", result.Error)
	}
	return nil
}

func (r *Repository) FindSubscriptionBySubject(accountID uint, subject string) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.Where("account_id = ? AND subject = ?", accountID, subject).First(&sub)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error looking up subscription: %w", result.Error)
	}
	return &sub, nil
}

func (r *Repository) CreateSubscription(sub *models.Subscription) error {
	if err := r.db.Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *Repository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	result := r.db.First(&sub, id)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("database error looking up subscription: %w", result.Error)
	}
	return &sub, nil
}

func (r *Repository) ListSubscriptions(accountID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	result := r.db.Where("account_id = ?", accountID).Order("created_at DESC").Find(&subs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", result.Error)
	}
	return subs, nil
}

func (r *Repository) UpdateSubscription(sub *models.Subscription) error {
	if err := r.db.Save(sub).Error; err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (r *Repository) DeleteSubscription(id uint) error {
	if err := r.db.Delete(&models.Subscription{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
