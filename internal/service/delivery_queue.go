package service

import (
	"context"
	"errors"
	"time"

	"courier/internal/constants"
	apperrors "courier/internal/errors"
	"courier/internal/models"
	"courier/internal/privacy"
	"courier/internal/validation"
	"courier/pkg/channel"

	"github.com/sirupsen/logrus"
)

// QueueStore is the persistence surface the delivery queue needs.
type QueueStore interface {
	CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	GetOwnedQueueEntry(ctx context.Context, id string, ownerID int64) (*models.QueueEntry, error)
	GetQueueEntryByExternalID(ctx context.Context, externalID string) (*models.QueueEntry, error)
	SelectEligibleEntries(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error)
	ClaimQueueEntry(ctx context.Context, id string, now time.Time) (bool, error)
	MarkEntrySent(ctx context.Context, id, externalID string, now time.Time) error
	MarkEntryFailed(ctx context.Context, id, errorMessage string, now time.Time) error
	RequeueEntry(ctx context.Context, id, errorMessage string, now time.Time) error
	CancelQueueEntry(ctx context.Context, id string, ownerID int64, now time.Time) (bool, error)
	SetEntryDelivered(ctx context.Context, id string, now time.Time) error
	SetEntryRead(ctx context.Context, id string, now time.Time) error
	PurgeTerminalEntries(ctx context.Context, cutoff time.Time) (int64, error)
	GetQueueStats(ctx context.Context, ownerID int64) (*models.QueueStats, error)
	CreateQueueAttempt(ctx context.Context, queueID string, attemptNumber int) (string, error)
	CompleteQueueAttempt(ctx context.Context, attemptID, status string, responseCode int, responseMessage, externalID, failureReason string) error
	ListQueueAttempts(ctx context.Context, queueID string) ([]*models.QueueAttempt, error)
	GetOwnedIntegration(ctx context.Context, id string, ownerID int64) (*models.Integration, error)
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	ResolveContact(ctx context.Context, integrationID, phone, email, chatID, name string) (*models.Contact, error)
	BumpIntegrationCounters(ctx context.Context, id string, sent bool) error
}

// SenderFactory resolves the transport for an integration.
type SenderFactory interface {
	SenderFor(integration *models.Integration) (channel.Sender, error)
}

// EventEmitter receives lifecycle events for fan-out. Emissions are
// fire-and-forget; a slow subscriber never blocks a state transition.
type EventEmitter interface {
	Emit(ownerID int64, event string, data interface{})
}

// EnqueueRequest is one message submission.
type EnqueueRequest struct {
	IntegrationID  string     `json:"integrationId"`
	ToPhone        string     `json:"toPhone,omitempty"`
	ToEmail        string     `json:"toEmail,omitempty"`
	ToChatID       string     `json:"toChatId,omitempty"`
	ToName         string     `json:"toName,omitempty"`
	Content        string     `json:"content"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
	MediaType      string     `json:"mediaType,omitempty"`
	Priority       *int       `json:"priority,omitempty"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	ForceImmediate bool       `json:"forceImmediate,omitempty"`
	MinInterval    *int       `json:"minInterval,omitempty"`
	MaxRetries     *int       `json:"maxRetries,omitempty"`
}

// DeliveryQueue owns the outbound message lifecycle.
type DeliveryQueue struct {
	store       QueueStore
	senders     SenderFactory
	emitter     EventEmitter
	logger      *logrus.Logger
	location    *time.Location
	sendTimeout time.Duration
	batchSize   int
	now         func() time.Time
}

type QueueOption func(*DeliveryQueue)

// WithClock overrides the time source. Tests use this to pin the
// quiet-hours and min-interval decisions.
func WithClock(now func() time.Time) QueueOption {
	return func(q *DeliveryQueue) { q.now = now }
}

func WithLocation(loc *time.Location) QueueOption {
	return func(q *DeliveryQueue) { q.location = loc }
}

func WithSendTimeout(d time.Duration) QueueOption {
	return func(q *DeliveryQueue) { q.sendTimeout = d }
}

func WithBatchSize(n int) QueueOption {
	return func(q *DeliveryQueue) { q.batchSize = n }
}

func NewDeliveryQueue(store QueueStore, senders SenderFactory, emitter EventEmitter, logger *logrus.Logger, opts ...QueueOption) *DeliveryQueue {
	q := &DeliveryQueue{
		store:       store,
		senders:     senders,
		emitter:     emitter,
		logger:      logger,
		location:    time.Local,
		sendTimeout: constants.DefaultChannelSendTimeoutSec * time.Second,
		batchSize:   constants.DefaultSelectBatchSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates a submission and persists it as PENDING or, when
// a dispatch time is known, SCHEDULED. A forceImmediate submission is
// processed synchronously and comes back SENT or FAILED.
func (q *DeliveryQueue) Enqueue(ctx context.Context, ownerID int64, req *EnqueueRequest) (*models.QueueEntry, error) {
	destinations := 0
	for _, d := range []string{req.ToPhone, req.ToEmail, req.ToChatID} {
		if d != "" {
			destinations++
		}
	}
	if destinations == 0 {
		return nil, apperrors.NewValidationError("destination", "one of toPhone, toEmail or toChatId is required")
	}
	if destinations > 1 {
		return nil, apperrors.NewValidationError("destination", "exactly one of toPhone, toEmail or toChatId may be set")
	}
	if req.ToPhone != "" {
		if err := validation.ValidatePhoneNumber(req.ToPhone); err != nil {
			return nil, err
		}
	}
	if req.ToEmail != "" {
		if err := validation.ValidateEmail(req.ToEmail); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateContent(req.Content, req.MediaURL); err != nil {
		return nil, err
	}

	priority := constants.DefaultPriority
	if req.Priority != nil {
		if err := validation.ValidatePriority(*req.Priority); err != nil {
			return nil, err
		}
		priority = *req.Priority
	}

	integration, err := q.store.GetOwnedIntegration(ctx, req.IntegrationID, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get integration", err)
	}
	if integration == nil {
		return nil, apperrors.NewNotFoundError("integration", req.IntegrationID)
	}
	if integration.Status == models.IntegrationDisabled {
		return nil, apperrors.NewValidationError("integrationId", "integration is disabled")
	}

	contact, err := q.store.ResolveContact(ctx, integration.ID, req.ToPhone, req.ToEmail, req.ToChatID, req.ToName)
	if err != nil {
		return nil, apperrors.NewDatabaseError("resolve contact", err)
	}

	scheduledAt := q.resolveSchedule(req)
	status := models.QueueStatusPending
	if scheduledAt != nil {
		status = models.QueueStatusScheduled
	}

	minInterval := constants.DefaultMinIntervalSec
	if req.MinInterval != nil && *req.MinInterval >= 0 {
		minInterval = *req.MinInterval
	}
	maxRetries := constants.DefaultMaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	entry := &models.QueueEntry{
		OwnerID:       ownerID,
		IntegrationID: integration.ID,
		ToPhone:       req.ToPhone,
		ToEmail:       req.ToEmail,
		ToChatID:      req.ToChatID,
		ToName:        req.ToName,
		ContactID:     contact.ID,
		Content:       req.Content,
		MediaURL:      req.MediaURL,
		MediaType:     req.MediaType,
		Status:        status,
		Priority:      priority,
		ScheduledAt:   scheduledAt,
		MinInterval:   minInterval,
		MaxRetries:    maxRetries,
	}
	if err := q.store.CreateQueueEntry(ctx, entry); err != nil {
		return nil, apperrors.NewDatabaseError("create queue entry", err)
	}

	q.logger.WithFields(logrus.Fields{
		"queueId":     entry.ID,
		"destination": privacy.MaskDestination(entry.DestinationKey()),
		"status":      entry.Status,
		"priority":    entry.Priority,
	}).Info("Message enqueued")

	if req.ForceImmediate {
		// Interactive sends want a definitive outcome: dispatch now,
		// on the caller's goroutine, and return the post-attempt
		// state. The send is timeout-bounded and the single attempt
		// is final, so the caller always sees SENT or FAILED.
		q.process(ctx, entry, true)
		fresh, err := q.store.GetOwnedQueueEntry(ctx, entry.ID, ownerID)
		if err != nil {
			return nil, apperrors.NewDatabaseError("get queue entry", err)
		}
		if fresh != nil {
			entry = fresh
		}
	}

	return entry, nil
}

// resolveSchedule applies the quiet-hours policy. An explicit schedule
// is honored as given; forceImmediate bypasses the window; otherwise a
// submission that lands outside delivery hours rolls forward to the
// next morning.
func (q *DeliveryQueue) resolveSchedule(req *EnqueueRequest) *time.Time {
	if req.ScheduledAt != nil {
		t := req.ScheduledAt.UTC()
		return &t
	}
	if req.ForceImmediate {
		return nil
	}

	local := q.now().In(q.location)
	hour := local.Hour()
	if hour >= constants.QuietHoursEnd && hour < constants.QuietHoursStart {
		return nil
	}

	next := time.Date(local.Year(), local.Month(), local.Day(), constants.QuietHoursEnd, 0, 0, 0, q.location)
	if hour >= constants.QuietHoursStart {
		next = next.AddDate(0, 0, 1)
	}
	t := next.UTC()
	return &t
}

// SelectEligible returns the batch to dispatch this tick: due entries
// in priority order, at most one per destination, skipping
// destinations contacted more recently than their entry's minimum
// interval.
func (q *DeliveryQueue) SelectEligible(ctx context.Context, now time.Time) ([]*models.QueueEntry, error) {
	batch, err := q.store.SelectEligibleEntries(ctx, now, q.batchSize)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select eligible entries", err)
	}

	seen := make(map[string]bool, len(batch))
	eligible := make([]*models.QueueEntry, 0, len(batch))
	for _, entry := range batch {
		key := entry.DestinationKey()
		if key != "" && seen[key] {
			continue
		}
		if entry.LastAttemptAt != nil && entry.MinInterval > 0 {
			elapsed := now.Sub(*entry.LastAttemptAt)
			if elapsed < time.Duration(entry.MinInterval)*time.Second {
				continue
			}
		}
		seen[key] = true
		eligible = append(eligible, entry)
	}
	return eligible, nil
}

// RunOnce processes one tick of the queue.
func (q *DeliveryQueue) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	now := q.now().UTC()
	eligible, err := q.SelectEligible(ctx, now)
	if err != nil {
		return nil, err
	}

	summary := &models.RunSummary{}
	for _, entry := range eligible {
		if ctx.Err() != nil {
			break
		}
		sent, failed := q.ProcessEntry(ctx, entry)
		if sent || failed {
			summary.Processed++
		}
		if sent {
			summary.Sent++
		}
		if failed {
			summary.Failed++
		}
	}

	if summary.Processed > 0 {
		q.logger.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"sent":      summary.Sent,
			"failed":    summary.Failed,
		}).Info("Queue tick completed")
	}
	return summary, nil
}

// ProcessEntry claims and dispatches one entry. The claim is a
// conditional state change, so an entry grabbed by a concurrent run
// (or cancelled in the meantime) is skipped without effect. Returns
// whether the attempt ended in SENT and whether it failed.
func (q *DeliveryQueue) ProcessEntry(ctx context.Context, entry *models.QueueEntry) (sent, failed bool) {
	return q.process(ctx, entry, false)
}

// process runs one delivery attempt. A final attempt never requeues:
// any failure is terminal regardless of the remaining retry budget.
func (q *DeliveryQueue) process(ctx context.Context, entry *models.QueueEntry, final bool) (sent, failed bool) {
	now := q.now().UTC()
	claimed, err := q.store.ClaimQueueEntry(ctx, entry.ID, now)
	if err != nil {
		q.logger.WithError(err).WithField("queueId", entry.ID).Error("Failed to claim queue entry")
		return false, false
	}
	if !claimed {
		return false, false
	}
	attemptNumber := entry.CurrentRetry + 1

	attemptID, err := q.store.CreateQueueAttempt(ctx, entry.ID, attemptNumber)
	if err != nil {
		q.logger.WithError(err).WithField("queueId", entry.ID).Error("Failed to record attempt")
	}

	externalID, sendErr := q.dispatch(ctx, entry)
	if sendErr == nil {
		return q.finishSent(ctx, entry, attemptID, externalID), false
	}
	return false, q.finishFailed(ctx, entry, attemptID, attemptNumber, sendErr, final)
}

func (q *DeliveryQueue) dispatch(ctx context.Context, entry *models.QueueEntry) (string, error) {
	integration, err := q.store.GetIntegration(ctx, entry.IntegrationID)
	if err != nil {
		return "", apperrors.NewDatabaseError("get integration", err)
	}
	if integration == nil {
		return "", apperrors.NewNotFoundError("integration", entry.IntegrationID)
	}
	if integration.Status == models.IntegrationDisabled {
		return "", apperrors.New(apperrors.ErrCodeChannelDelivery, "integration is disabled")
	}

	sender, err := q.senders.SenderFor(integration)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	defer cancel()

	dest := channel.Destination{
		Phone:  entry.ToPhone,
		Email:  entry.ToEmail,
		ChatID: entry.ToChatID,
		Name:   entry.ToName,
	}
	msg := channel.Message{
		Content:   entry.Content,
		MediaURL:  entry.MediaURL,
		MediaType: entry.MediaType,
	}
	return sender.Send(sendCtx, dest, msg)
}

func (q *DeliveryQueue) finishSent(ctx context.Context, entry *models.QueueEntry, attemptID, externalID string) bool {
	now := q.now().UTC()
	if err := q.store.MarkEntrySent(ctx, entry.ID, externalID, now); err != nil {
		q.logger.WithError(err).WithField("queueId", entry.ID).Error("Failed to mark entry sent")
		return false
	}
	if attemptID != "" {
		if err := q.store.CompleteQueueAttempt(ctx, attemptID, "SENT", 200, "", externalID, ""); err != nil {
			q.logger.WithError(err).WithField("queueId", entry.ID).Warn("Failed to complete attempt record")
		}
	}
	if err := q.store.BumpIntegrationCounters(ctx, entry.IntegrationID, true); err != nil {
		q.logger.WithError(err).WithField("queueId", entry.ID).Warn("Failed to bump integration counters")
	}

	q.logger.WithFields(logrus.Fields{
		"queueId":     entry.ID,
		"externalId":  externalID,
		"destination": privacy.MaskDestination(entry.DestinationKey()),
	}).Info("Message sent")

	q.emitter.Emit(entry.OwnerID, models.EventMessageSent, map[string]interface{}{
		"queueId":       entry.ID,
		"integrationId": entry.IntegrationID,
		"externalId":    externalID,
		"sentAt":        now.Format(time.RFC3339),
	})
	return true
}

// finishFailed decides between requeue and permanent failure. Every
// failure is retried until the attempt budget runs out; retries are
// spaced linearly by the entry's minimum interval, not by an
// exponential clock. A requeued entry becomes eligible again once the
// interval since its last attempt has elapsed.
func (q *DeliveryQueue) finishFailed(ctx context.Context, entry *models.QueueEntry, attemptID string, attemptNumber int, sendErr error, final bool) bool {
	now := q.now().UTC()
	retryable := !final && attemptNumber < entry.MaxRetries

	if attemptID != "" {
		status := "FAILED"
		if err := q.store.CompleteQueueAttempt(ctx, attemptID, status, statusCodeOf(sendErr), "", "", sendErr.Error()); err != nil {
			q.logger.WithError(err).WithField("queueId", entry.ID).Warn("Failed to complete attempt record")
		}
	}

	if retryable {
		if err := q.store.RequeueEntry(ctx, entry.ID, sendErr.Error(), now); err != nil {
			q.logger.WithError(err).WithField("queueId", entry.ID).Error("Failed to requeue entry")
			return false
		}
		q.logger.WithFields(logrus.Fields{
			"queueId":   entry.ID,
			"attempt":   attemptNumber,
			"error":     sendErr.Error(),
			"transient": apperrors.IsRetryable(sendErr),
		}).Warn("Delivery failed, requeued")
		return false
	}

	if err := q.store.MarkEntryFailed(ctx, entry.ID, sendErr.Error(), now); err != nil {
		q.logger.WithError(err).WithField("queueId", entry.ID).Error("Failed to mark entry failed")
		return false
	}
	if err := q.store.BumpIntegrationCounters(ctx, entry.IntegrationID, false); err != nil {
		q.logger.WithError(err).WithField("queueId", entry.ID).Warn("Failed to bump integration counters")
	}

	q.logger.WithFields(logrus.Fields{
		"queueId": entry.ID,
		"attempt": attemptNumber,
		"error":   sendErr.Error(),
	}).Error("Delivery failed permanently")

	q.emitter.Emit(entry.OwnerID, models.EventMessageFailed, map[string]interface{}{
		"queueId":       entry.ID,
		"integrationId": entry.IntegrationID,
		"error":         sendErr.Error(),
		"failedAt":      now.Format(time.RFC3339),
	})
	return true
}

// Cancel withdraws an owner's entry while it is still waiting. Entries
// already dispatched, finished or cancelled surface as not found.
func (q *DeliveryQueue) Cancel(ctx context.Context, ownerID int64, id string) (*models.QueueEntry, error) {
	cancelled, err := q.store.CancelQueueEntry(ctx, id, ownerID, q.now().UTC())
	if err != nil {
		return nil, apperrors.NewDatabaseError("cancel queue entry", err)
	}
	if !cancelled {
		// Unknown, foreign and already-dispatched entries all look the
		// same to the caller: nothing cancellable under that id.
		return nil, apperrors.NewNotFoundError("message", id)
	}

	entry, err := q.store.GetOwnedQueueEntry(ctx, id, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get queue entry", err)
	}
	q.logger.WithField("queueId", id).Info("Message cancelled")
	return entry, nil
}

// Get returns an owner's entry.
func (q *DeliveryQueue) Get(ctx context.Context, ownerID int64, id string) (*models.QueueEntry, error) {
	entry, err := q.store.GetOwnedQueueEntry(ctx, id, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get queue entry", err)
	}
	if entry == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}
	return entry, nil
}

// Attempts returns the attempt history for an owner's entry.
func (q *DeliveryQueue) Attempts(ctx context.Context, ownerID int64, id string) ([]*models.QueueAttempt, error) {
	if _, err := q.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	attempts, err := q.store.ListQueueAttempts(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list queue attempts", err)
	}
	return attempts, nil
}

// MarkDelivered records a provider delivery receipt by external id.
func (q *DeliveryQueue) MarkDelivered(ctx context.Context, externalID string) error {
	return q.recordReceipt(ctx, externalID, models.EventMessageDelivered)
}

// MarkRead records a provider read receipt by external id.
func (q *DeliveryQueue) MarkRead(ctx context.Context, externalID string) error {
	return q.recordReceipt(ctx, externalID, models.EventMessageRead)
}

func (q *DeliveryQueue) recordReceipt(ctx context.Context, externalID, event string) error {
	entry, err := q.store.GetQueueEntryByExternalID(ctx, externalID)
	if err != nil {
		return apperrors.NewDatabaseError("get queue entry", err)
	}
	if entry == nil {
		return apperrors.NewNotFoundError("message", externalID)
	}

	now := q.now().UTC()
	switch event {
	case models.EventMessageDelivered:
		err = q.store.SetEntryDelivered(ctx, entry.ID, now)
	case models.EventMessageRead:
		err = q.store.SetEntryRead(ctx, entry.ID, now)
	}
	if err != nil {
		return apperrors.NewDatabaseError("record receipt", err)
	}

	q.emitter.Emit(entry.OwnerID, event, map[string]interface{}{
		"queueId":    entry.ID,
		"externalId": externalID,
		"timestamp":  now.Format(time.RFC3339),
	})
	return nil
}

// Stats returns per-status counts for an owner.
func (q *DeliveryQueue) Stats(ctx context.Context, ownerID int64) (*models.QueueStats, error) {
	stats, err := q.store.GetQueueStats(ctx, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get queue stats", err)
	}
	return stats, nil
}

// PurgeTerminal deletes finished entries older than the retention
// window.
func (q *DeliveryQueue) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := q.now().UTC().Add(-retention)
	purged, err := q.store.PurgeTerminalEntries(ctx, cutoff)
	if err != nil {
		return 0, apperrors.NewDatabaseError("purge terminal entries", err)
	}
	if purged > 0 {
		q.logger.WithField("purged", purged).Info("Purged terminal queue entries")
	}
	return purged, nil
}

func statusCodeOf(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if v, ok := appErr.Context["status_code"].(int); ok {
			return v
		}
	}
	return 0
}
