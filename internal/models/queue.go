package models

import (
	"time"
)

// QueueStatus is the lifecycle state of a queue entry. The string
// values are a stable contract exposed to API callers.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"
	QueueStatusScheduled  QueueStatus = "SCHEDULED"
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusSent       QueueStatus = "SENT"
	QueueStatusFailed     QueueStatus = "FAILED"
	QueueStatusCancelled  QueueStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed || s == QueueStatusCancelled
}

// QueueEntry is a queued or sent outbound message.
type QueueEntry struct {
	ID            string      `json:"id"`
	OwnerID       int64       `json:"ownerId"`
	IntegrationID string      `json:"integrationId"`
	ToPhone       string      `json:"toPhone,omitempty"`
	ToEmail       string      `json:"toEmail,omitempty"`
	ToChatID      string      `json:"toChatId,omitempty"`
	ToName        string      `json:"toName,omitempty"`
	ContactID     string      `json:"contactId,omitempty"`
	Content       string      `json:"content"`
	MediaURL      string      `json:"mediaUrl,omitempty"`
	MediaType     string      `json:"mediaType,omitempty"`
	Status        QueueStatus `json:"status"`
	Priority      int         `json:"priority"`
	ScheduledAt   *time.Time  `json:"scheduledAt,omitempty"`
	MinInterval   int         `json:"minInterval"`
	CurrentRetry  int         `json:"currentRetry"`
	MaxRetries    int         `json:"maxRetries"`
	LastAttemptAt *time.Time  `json:"lastAttemptAt,omitempty"`
	SentAt        *time.Time  `json:"sentAt,omitempty"`
	DeliveredAt   *time.Time  `json:"deliveredAt,omitempty"`
	ReadAt        *time.Time  `json:"readAt,omitempty"`
	FailedAt      *time.Time  `json:"failedAt,omitempty"`
	CancelledAt   *time.Time  `json:"cancelledAt,omitempty"`
	ExternalID    string      `json:"externalId,omitempty"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// DestinationKey returns the first non-empty recipient identifier,
// in phone, email, chat-id priority order. Used for per-batch dedup
// and interval gating.
func (e *QueueEntry) DestinationKey() string {
	if e.ToPhone != "" {
		return e.ToPhone
	}
	if e.ToEmail != "" {
		return e.ToEmail
	}
	return e.ToChatID
}

// QueueAttempt is one dispatch attempt for a queue entry. Rows are
// append-only.
type QueueAttempt struct {
	ID              string     `json:"id"`
	QueueID         string     `json:"queueId"`
	AttemptNumber   int        `json:"attemptNumber"`
	Status          string     `json:"status"`
	ResponseCode    int        `json:"responseCode,omitempty"`
	ResponseMessage string     `json:"responseMessage,omitempty"`
	ExternalID      string     `json:"externalId,omitempty"`
	FailureReason   string     `json:"failureReason,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// QueueStats holds per-status entry counts.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

// RunSummary is the outcome of one driver pass over the queue.
type RunSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}
