package models

import "time"

// Recognized webhook event names.
const (
	EventMessageSent             = "message.sent"
	EventMessageDelivered        = "message.delivered"
	EventMessageRead             = "message.read"
	EventMessageFailed           = "message.failed"
	EventMessageReceived         = "message.received"
	EventIntegrationConnected    = "integration.connected"
	EventIntegrationDisconnected = "integration.disconnected"
	EventWebhookTest             = "webhook.test"
)

// KnownEvents lists every event name an endpoint may subscribe to.
var KnownEvents = []string{
	EventMessageSent,
	EventMessageDelivered,
	EventMessageRead,
	EventMessageFailed,
	EventMessageReceived,
	EventIntegrationConnected,
	EventIntegrationDisconnected,
	EventWebhookTest,
}

// WebhookEndpoint is a subscriber URL registered by an owner. The
// secret is generated once at registration and never regenerated on
// update.
type WebhookEndpoint struct {
	ID          string     `json:"id"`
	OwnerID     int64      `json:"ownerId"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"`
	Events      []string   `json:"events"`
	Enabled     bool       `json:"enabled"`
	TotalSent   int64      `json:"totalSent"`
	TotalFailed int64      `json:"totalFailed"`
	LastSentAt  *time.Time `json:"lastSentAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Subscribed reports whether the endpoint subscribes to the event.
// Exact string match, no wildcards.
func (w *WebhookEndpoint) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDeliveryLog is one outbound delivery attempt. Append-only,
// never mutated.
type WebhookDeliveryLog struct {
	ID           string    `json:"id"`
	EndpointID   string    `json:"endpointId"`
	Event        string    `json:"event"`
	URL          string    `json:"url"`
	Payload      string    `json:"payload"`
	Response     string    `json:"response,omitempty"`
	StatusCode   int       `json:"statusCode,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EventTimestampLayout is the millisecond ISO-8601 form consumers
// already parse. Timestamps are always UTC, hence the literal Z.
const EventTimestampLayout = "2006-01-02T15:04:05.000Z"

// WebhookEvent is the wire payload POSTed to subscriber endpoints.
type WebhookEvent struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// NotifyResult is the aggregate outcome of one event fan-out.
type NotifyResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
