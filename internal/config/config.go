package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Google   GoogleConfig   `mapstructure:"google"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GoogleConfig holds Google OAuth2 and API configuration
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	PubSubTopic  string `mapstructure:"pubsub_topic"`
	CalendarID   string `mapstructure:"calendar_id"`
}

// OpenAIConfig holds classifier configuration
type OpenAIConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxBodyBytes int     `mapstructure:"max_body_bytes"`
}

// IngestConfig holds ingestion pipeline configuration
type IngestConfig struct {
	BatchSize           int     `mapstructure:"batch_size"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	RecentLimit         int     `mapstructure:"recent_limit"`
	DefaultTrialDays    int     `mapstructure:"default_trial_days"`
}

// WatchConfig holds watch lifecycle configuration
type WatchConfig struct {
	RenewalWindowHours   int `mapstructure:"renewal_window_hours"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// ReminderConfig holds calendar reminder configuration
type ReminderConfig struct {
	DefaultLeadDays int `mapstructure:"default_lead_days"`
	MinLeadDays     int `mapstructure:"min_lead_days"`
	MaxLeadDays     int `mapstructure:"max_lead_days"`
}

// SecretsConfig holds shared secrets gating the non-public endpoints
type SecretsConfig struct {
	WebhookToken string `mapstructure:"webhook_token"`
	CronSecret   string `mapstructure:"cron_secret"`
	DebugSecret  string `mapstructure:"debug_secret"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("google.calendar_id", "primary")

	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.max_tokens", 500)
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.max_body_bytes", 4000)

	viper.SetDefault("ingest.batch_size", 10)
	viper.SetDefault("ingest.confidence_threshold", 0.70)
	viper.SetDefault("ingest.recent_limit", 20)
	viper.SetDefault("ingest.default_trial_days", 14)

	viper.SetDefault("watch.renewal_window_hours", 24)
	viper.SetDefault("watch.sweep_interval_minutes", 60)

	viper.SetDefault("reminder.default_lead_days", 3)
	viper.SetDefault("reminder.min_lead_days", 1)
	viper.SetDefault("reminder.max_lead_days", 14)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("google.client_id", "GOOGLE_CLIENT_ID")
	viper.BindEnv("google.client_secret", "GOOGLE_CLIENT_SECRET")
	viper.BindEnv("google.pubsub_topic", "GOOGLE_PUBSUB_TOPIC")
	viper.BindEnv("google.calendar_id", "GOOGLE_CALENDAR_ID")

	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.model", "OPENAI_MODEL")
	viper.BindEnv("openai.max_tokens", "OPENAI_MAX_TOKENS")
	viper.BindEnv("openai.temperature", "OPENAI_TEMPERATURE")
	viper.BindEnv("openai.max_body_bytes", "OPENAI_MAX_BODY_BYTES")

	viper.BindEnv("ingest.batch_size", "INGEST_BATCH_SIZE")
	viper.BindEnv("ingest.confidence_threshold", "INGEST_CONFIDENCE_THRESHOLD")
	viper.BindEnv("ingest.recent_limit", "INGEST_RECENT_LIMIT")
	viper.BindEnv("ingest.default_trial_days", "INGEST_DEFAULT_TRIAL_DAYS")

	viper.BindEnv("watch.renewal_window_hours", "WATCH_RENEWAL_WINDOW_HOURS")
	viper.BindEnv("watch.sweep_interval_minutes", "WATCH_SWEEP_INTERVAL_MINUTES")

	viper.BindEnv("reminder.default_lead_days", "REMINDER_DEFAULT_LEAD_DAYS")
	viper.BindEnv("reminder.min_lead_days", "REMINDER_MIN_LEAD_DAYS")
	viper.BindEnv("reminder.max_lead_days", "REMINDER_MAX_LEAD_DAYS")

	viper.BindEnv("secrets.webhook_token", "WEBHOOK_VERIFICATION_TOKEN")
	viper.BindEnv("secrets.cron_secret", "CRON_SECRET")
	viper.BindEnv("secrets.debug_secret", "DEBUG_SECRET")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("Google OAuth2 client credentials are required")
	}

	if c.Google.PubSubTopic == "" {
		return fmt.Errorf("Google Pub/Sub topic is required for inbox watches")
	}

	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest batch size must be greater than 0")
	}

	if c.Ingest.ConfidenceThreshold < 0 || c.Ingest.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1")
	}

	if c.Reminder.MinLeadDays < 1 || c.Reminder.MaxLeadDays < c.Reminder.MinLeadDays {
		return fmt.Errorf("reminder lead day bounds are invalid")
	}

	if c.Secrets.WebhookToken == "" {
		return fmt.Errorf("webhook verification token is required")
	}

	if c.Watch.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0")
	}

	return nil
}
