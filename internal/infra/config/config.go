package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const DefaultTimezone = "America/Los_Angeles"

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string
	Timezone    string
	Location    *time.Location // Loaded from Timezone

	CadenceMinutes  int
	DryRun          bool
	Workers         int
	SendRate        float64 // pushes per second, 0 disables throttling
	ClaimBeforeSend bool
	CronSpecSweep   string

	FCMCredentialsFile    string
	FCMServiceAccountJSON string // raw or base64 encoded
	FCMProjectID          string

	TelegramToken string // Operator alerts are disabled when empty
	AlertChatID   int64
}

// HasPushCredentials reports whether any FCM service account was configured.
func (c *AppConfig) HasPushCredentials() bool {
	return c.FCMCredentialsFile != "" || c.FCMServiceAccountJSON != ""
}

// AlertsEnabled reports whether Telegram operator alerts are configured.
func (c *AppConfig) AlertsEnabled() bool {
	return c.TelegramToken != "" && c.AlertChatID != 0
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.Timezone = os.Getenv("TIMEZONE")
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.CadenceMinutes, err = intEnv("NOTIFY_CADENCE_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	if cfg.CadenceMinutes <= 0 {
		return nil, fmt.Errorf("invalid NOTIFY_CADENCE_MINUTES: must be positive, got %d", cfg.CadenceMinutes)
	}

	cfg.DryRun, err = boolEnv("NOTIFY_DRY_RUN", false)
	if err != nil {
		return nil, err
	}

	cfg.Workers, err = intEnv("NOTIFY_WORKERS", 8)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("invalid NOTIFY_WORKERS: must be positive, got %d", cfg.Workers)
	}

	rateStr := os.Getenv("NOTIFY_SEND_RATE")
	if rateStr == "" {
		cfg.SendRate = 20 // Default: 20 pushes per second
	} else {
		cfg.SendRate, err = strconv.ParseFloat(rateStr, 64)
		if err != nil || cfg.SendRate < 0 {
			return nil, fmt.Errorf("invalid NOTIFY_SEND_RATE: %q", rateStr)
		}
	}

	cfg.ClaimBeforeSend, err = boolEnv("NOTIFY_CLAIM_BEFORE_SEND", false)
	if err != nil {
		return nil, err
	}

	cfg.CronSpecSweep = os.Getenv("CRON_SPEC_SWEEP")
	if cfg.CronSpecSweep == "" {
		cfg.CronSpecSweep = CronSpecForCadence(cfg.CadenceMinutes)
	}

	cfg.FCMCredentialsFile = os.Getenv("FCM_CREDENTIALS_FILE")
	cfg.FCMServiceAccountJSON = os.Getenv("FCM_SERVICE_ACCOUNT_JSON")
	cfg.FCMProjectID = os.Getenv("FCM_PROJECT_ID")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	chatIDStr := os.Getenv("ALERT_TELEGRAM_CHAT_ID")
	if chatIDStr != "" {
		cfg.AlertChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ALERT_TELEGRAM_CHAT_ID: %w", err)
		}
	}

	return cfg, nil
}

// CronSpecForCadence aligns the trigger to the wall clock when the cadence
// divides an hour, e.g. 15 -> "*/15 * * * *".
func CronSpecForCadence(minutes int) string {
	switch {
	case minutes == 60:
		return "0 * * * *"
	case minutes > 0 && minutes < 60 && 60%minutes == 0:
		return fmt.Sprintf("*/%d * * * *", minutes)
	default:
		return fmt.Sprintf("@every %dm", minutes)
	}
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
