package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"courier/internal/constants"
	"courier/internal/models"
	"courier/internal/validation"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads the JSON config, fills defaults and applies
// environment overrides.
func LoadConfig(path string) (*models.Config, error) {
	if err := validation.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Queue.DriverIntervalSec <= 0 {
		c.Queue.DriverIntervalSec = constants.DefaultDriverIntervalSec
	}
	if c.Queue.SelectBatchSize <= 0 {
		c.Queue.SelectBatchSize = constants.DefaultSelectBatchSize
	}
	if c.Queue.ChannelSendTimeoutSec <= 0 {
		c.Queue.ChannelSendTimeoutSec = constants.DefaultChannelSendTimeoutSec
	}
	if c.Queue.RetentionDays <= 0 {
		c.Queue.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Queue.PurgeIntervalHours <= 0 {
		c.Queue.PurgeIntervalHours = constants.DefaultPurgeIntervalHours
	}

	if c.Webhook.TimeoutSec <= 0 {
		c.Webhook.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid timezone: %s", c.TimeZone)}
		}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("COURIER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("COURIER_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil && v > 0 {
			c.Server.Port = v
		}
	}
	if level := os.Getenv("COURIER_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if tz := os.Getenv("COURIER_TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			c.TimeZone = tz
		}
	}

	// Inbound status callbacks are HMAC-verified; the secret comes
	// from the environment so it never lives in the config file.
	if secret := os.Getenv("COURIER_INBOUND_WEBHOOK_SECRET"); secret != "" {
		c.Webhook.InboundSecret = secret
	}
}

func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("COURIER_ENV") == "production"

	if isProduction {
		if c.Webhook.InboundSecret == "" {
			return models.ConfigError{Message: "inbound webhook secret is required in production (set COURIER_INBOUND_WEBHOOK_SECRET)"}
		}
		if len(c.Webhook.InboundSecret) < 32 {
			return models.ConfigError{Message: "inbound webhook secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production"}
		}
	} else if c.Webhook.InboundSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: inbound webhook secret not set. Set COURIER_INBOUND_WEBHOOK_SECRET to verify status callbacks.\n")
	}

	return nil
}
