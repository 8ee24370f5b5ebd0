package models

import (
	"time"
)

// Subscription kinds
const (
	KindTrial        = "trial"
	KindSubscription = "subscription"
)

// Subscription lifecycle statuses
const (
	StatusActive       = "active"
	StatusExpiringSoon = "expiring_soon"
	StatusExpired      = "expired"
	StatusCancelled    = "cancelled"
)

// Account represents a connected Gmail mailbox
type Account struct {
	ID            uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Email         string     `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	AccessToken   string     `json:"-" gorm:"type:text"`
	RefreshToken  string     `json:"-" gorm:"type:text"`
	TokenExpiry   time.Time  `json:"token_expiry"`
	HistoryCursor string     `json:"history_cursor" gorm:"type:varchar(64)"`
	WatchExpiry   *time.Time `json:"watch_expiry"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// Settings holds per-account monitoring preferences
type Settings struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID         uint      `json:"account_id" gorm:"not null;uniqueIndex"`
	ReminderLeadDays  int       `json:"reminder_lead_days" gorm:"default:3"`
	MonitoringEnabled bool      `json:"monitoring_enabled" gorm:"default:false"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name for Settings
func (Settings) TableName() string {
	return "settings"
}

// ProcessedMessage records that a message has been classified. The unique
// (account_id, message_id) index is the deduplication primitive for the
// whole pipeline.
type ProcessedMessage struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID      uint      `json:"account_id" gorm:"not null;uniqueIndex:idx_account_message"`
	MessageID      string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_account_message"`
	IsSubscription bool      `json:"is_subscription"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

// Subscription represents a detected subscription or trial
type Subscription struct {
	ID              uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID       uint       `json:"account_id" gorm:"not null;index;uniqueIndex:idx_account_subject"`
	ServiceName     string     `json:"service_name" gorm:"type:varchar(255);not null"`
	Kind            string     `json:"kind" gorm:"type:varchar(32);not null"`
	DetectedDate    time.Time  `json:"detected_date"`
	EndDate         *time.Time `json:"end_date"`
	ReminderEventID *string    `json:"reminder_event_id" gorm:"type:varchar(255)"`
	Status          string     `json:"status" gorm:"type:varchar(32);not null;default:active"`
	Subject         string     `json:"subject" gorm:"type:varchar(255);not null;uniqueIndex:idx_account_subject"`
	Snippet         string     `json:"snippet" gorm:"type:text"`
	Confidence      float64    `json:"confidence"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Subscription
func (Subscription) TableName() string {
	return "subscriptions"
}

// expiringSoonWindow is how close to the end date a subscription is
// surfaced as expiring_soon.
const expiringSoonWindow = 7 * 24 * time.Hour

// DeriveStatus returns the lifecycle status implied by the end date at the
// given instant. Cancelled is sticky and never recomputed.
func (s *Subscription) DeriveStatus(now time.Time) string {
	if s.Status == StatusCancelled {
		return StatusCancelled
	}
	if s.EndDate == nil {
		return StatusActive
	}
	if s.EndDate.Before(now) {
		return StatusExpired
	}
	if s.EndDate.Sub(now) <= expiringSoonWindow {
		return StatusExpiringSoon
	}
	return StatusActive
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// SettingsRequest represents the request structure for updating settings
type SettingsRequest struct {
	Email             string `json:"email" binding:"required,email"`
	ReminderLeadDays  int    `json:"reminder_lead_days" binding:"required"`
	MonitoringEnabled *bool  `json:"monitoring_enabled" binding:"required"`
}

// SettingsResponse represents the response structure for settings
type SettingsResponse struct {
	Email             string `json:"email"`
	ReminderLeadDays  int    `json:"reminder_lead_days"`
	MonitoringEnabled bool   `json:"monitoring_enabled"`
	WatchActive       bool   `json:"watch_active"`
}

// SubscriptionUpdateRequest represents a user correction to a subscription
type SubscriptionUpdateRequest struct {
	Status  *string `json:"status"`
	EndDate *string `json:"end_date"` // YYYY-MM-DD
}
