package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// IntegrationType identifies the channel behind an integration.
type IntegrationType string

const (
	IntegrationWhatsApp IntegrationType = "WHATSAPP"
	IntegrationSMTP     IntegrationType = "SMTP"
	IntegrationTelegram IntegrationType = "TELEGRAM"
)

// IntegrationStatus is the connection state of an integration.
type IntegrationStatus string

const (
	IntegrationActive       IntegrationStatus = "ACTIVE"
	IntegrationDisconnected IntegrationStatus = "DISCONNECTED"
	IntegrationDisabled     IntegrationStatus = "DISABLED"
)

// Integration is a configured delivery channel owned by one account.
type Integration struct {
	ID             string            `json:"id"`
	OwnerID        int64             `json:"ownerId"`
	Name           string            `json:"name"`
	Type           IntegrationType   `json:"type"`
	Status         IntegrationStatus `json:"status"`
	Config         ChannelConfig     `json:"config"`
	RateLimit      int               `json:"rateLimit"`
	MessagesSent   int64             `json:"messagesSent"`
	MessagesFailed int64             `json:"messagesFailed"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ChannelConfig is the per-type integration configuration. Exactly
// one member is set, matching the integration type.
type ChannelConfig struct {
	WhatsApp *WhatsAppConfig `json:"whatsapp,omitempty"`
	SMTP     *SMTPConfig     `json:"smtp,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// WhatsAppConfig configures an HTTP chat gateway instance.
type WhatsAppConfig struct {
	APIBaseURL string `json:"apiBaseUrl"`
	APIKey     string `json:"apiKey"`
	Session    string `json:"session"`
}

// SMTPConfig configures an outbound mail relay.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Subject  string `json:"subject,omitempty"`
}

// TelegramConfig configures a bot-API sender.
type TelegramConfig struct {
	BotToken   string `json:"botToken"`
	APIBaseURL string `json:"apiBaseUrl,omitempty"`
}

// DecodeChannelConfig parses raw JSON into the config variant matching
// the integration type, rejecting payloads that do not fit.
func DecodeChannelConfig(typ IntegrationType, raw []byte) (ChannelConfig, error) {
	var cfg ChannelConfig
	if len(raw) == 0 {
		return cfg, fmt.Errorf("integration config is required")
	}

	switch typ {
	case IntegrationWhatsApp:
		var wa WhatsAppConfig
		if err := json.Unmarshal(raw, &wa); err != nil {
			return cfg, fmt.Errorf("invalid whatsapp config: %w", err)
		}
		if wa.APIBaseURL == "" {
			return cfg, fmt.Errorf("whatsapp config requires apiBaseUrl")
		}
		cfg.WhatsApp = &wa
	case IntegrationSMTP:
		var sm SMTPConfig
		if err := json.Unmarshal(raw, &sm); err != nil {
			return cfg, fmt.Errorf("invalid smtp config: %w", err)
		}
		if sm.Host == "" || sm.From == "" {
			return cfg, fmt.Errorf("smtp config requires host and from")
		}
		cfg.SMTP = &sm
	case IntegrationTelegram:
		var tg TelegramConfig
		if err := json.Unmarshal(raw, &tg); err != nil {
			return cfg, fmt.Errorf("invalid telegram config: %w", err)
		}
		if tg.BotToken == "" {
			return cfg, fmt.Errorf("telegram config requires botToken")
		}
		cfg.Telegram = &tg
	default:
		return cfg, fmt.Errorf("unsupported integration type: %s", typ)
	}

	return cfg, nil
}

// Encode serializes the set config variant for storage.
func (c ChannelConfig) Encode() ([]byte, error) {
	switch {
	case c.WhatsApp != nil:
		return json.Marshal(c.WhatsApp)
	case c.SMTP != nil:
		return json.Marshal(c.SMTP)
	case c.Telegram != nil:
		return json.Marshal(c.Telegram)
	}
	return nil, fmt.Errorf("channel config is empty")
}

// Contact is a recipient record scoped to one integration.
type Contact struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integrationId"`
	PhoneNumber   string    `json:"phoneNumber,omitempty"`
	Email         string    `json:"email,omitempty"`
	ChatID        string    `json:"chatId,omitempty"`
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// APIKey authenticates inbound API calls and carries the per-key
// rate limit.
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"-"`
	OwnerID     int64      `json:"ownerId"`
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	RateLimit   int        `json:"rateLimit"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// HasPermission reports whether the key grants a permission. A "*"
// entry grants everything.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}
