package service

import (
	"sync"
	"time"

	"courier/internal/constants"
	apperrors "courier/internal/errors"
	"courier/internal/models"
	"courier/pkg/channel"
)

// ChannelManager builds and caches transport clients per integration.
// Integrations are keyed by id and updated-at so a reconfigured
// integration gets a fresh client.
type ChannelManager struct {
	mu      sync.Mutex
	cache   map[string]cachedSender
	timeout time.Duration
}

type cachedSender struct {
	updatedAt time.Time
	sender    channel.Sender
}

func NewChannelManager(timeout time.Duration) *ChannelManager {
	if timeout <= 0 {
		timeout = constants.DefaultChannelSendTimeoutSec * time.Second
	}
	return &ChannelManager{
		cache:   make(map[string]cachedSender),
		timeout: timeout,
	}
}

func (m *ChannelManager) SenderFor(integration *models.Integration) (channel.Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache[integration.ID]; ok && cached.updatedAt.Equal(integration.UpdatedAt) {
		return cached.sender, nil
	}

	sender, err := m.build(integration)
	if err != nil {
		return nil, err
	}
	m.cache[integration.ID] = cachedSender{updatedAt: integration.UpdatedAt, sender: sender}
	return sender, nil
}

func (m *ChannelManager) build(integration *models.Integration) (channel.Sender, error) {
	cfg := integration.Config
	switch integration.Type {
	case models.IntegrationWhatsApp:
		if cfg.WhatsApp == nil {
			return nil, apperrors.NewConfigError("config", "whatsapp integration has no whatsapp config")
		}
		return channel.NewChatClient(cfg.WhatsApp.APIBaseURL, cfg.WhatsApp.APIKey, cfg.WhatsApp.Session, m.timeout), nil
	case models.IntegrationSMTP:
		if cfg.SMTP == nil {
			return nil, apperrors.NewConfigError("config", "smtp integration has no smtp config")
		}
		return channel.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.Subject), nil
	case models.IntegrationTelegram:
		if cfg.Telegram == nil {
			return nil, apperrors.NewConfigError("config", "telegram integration has no telegram config")
		}
		return channel.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL, m.timeout), nil
	}
	return nil, apperrors.NewConfigError("type", "unsupported integration type: "+string(integration.Type))
}
