package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"courier/internal/constants"
	apperrors "courier/internal/errors"
	"courier/internal/models"
	"courier/internal/signature"
	"courier/internal/validation"

	"github.com/sirupsen/logrus"
)

// WebhookStore is the persistence surface the notifier needs.
type WebhookStore interface {
	CreateWebhookEndpoint(ctx context.Context, ep *models.WebhookEndpoint) error
	GetWebhookEndpoint(ctx context.Context, id string, ownerID int64) (*models.WebhookEndpoint, error)
	ListWebhookEndpoints(ctx context.Context, ownerID int64) ([]*models.WebhookEndpoint, error)
	ListEnabledWebhookEndpoints(ctx context.Context, ownerID int64) ([]*models.WebhookEndpoint, error)
	UpdateWebhookEndpoint(ctx context.Context, ep *models.WebhookEndpoint) error
	DeleteWebhookEndpoint(ctx context.Context, id string, ownerID int64) (bool, error)
	RotateWebhookSecret(ctx context.Context, id string, ownerID int64, secret string) error
	RecordWebhookResult(ctx context.Context, endpointID string, success bool, now time.Time) error
	InsertWebhookDeliveryLog(ctx context.Context, log *models.WebhookDeliveryLog) error
	ListWebhookDeliveryLogs(ctx context.Context, endpointID string, limit int) ([]*models.WebhookDeliveryLog, error)
}

// WebhookNotifier fans lifecycle events out to registered endpoints.
// Payloads are signed with each endpoint's secret; every delivery is
// logged append-only.
type WebhookNotifier struct {
	store  WebhookStore
	logger *logrus.Logger
	client *http.Client

	// emitWg tracks fire-and-forget emissions so shutdown can drain
	// them.
	emitWg      sync.WaitGroup
	emitTimeout time.Duration
}

func NewWebhookNotifier(store WebhookStore, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		store:  store,
		logger: logger,
		client: &http.Client{Timeout: constants.DefaultWebhookTimeoutSec * time.Second},

		emitTimeout: constants.DefaultWebhookTimeoutSec * 2 * time.Second,
	}
}

// Register stores a new endpoint with a freshly generated secret. The
// plaintext secret is returned exactly once.
func (n *WebhookNotifier) Register(ctx context.Context, ownerID int64, name, url string, events []string) (*models.WebhookEndpoint, error) {
	if err := validation.ValidateWebhookURL(url); err != nil {
		return nil, err
	}
	if err := validation.ValidateEventNames(events, models.KnownEvents); err != nil {
		return nil, err
	}
	if name == "" {
		name = url
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to generate webhook secret")
	}

	ep := &models.WebhookEndpoint{
		OwnerID: ownerID,
		Name:    name,
		URL:     url,
		Secret:  secret,
		Events:  events,
		Enabled: true,
	}
	if err := n.store.CreateWebhookEndpoint(ctx, ep); err != nil {
		return nil, apperrors.NewDatabaseError("create webhook endpoint", err)
	}

	n.logger.WithFields(logrus.Fields{
		"webhookId": ep.ID,
		"events":    events,
	}).Info("Webhook endpoint registered")
	return ep, nil
}

// Update rewrites an endpoint's mutable fields. The secret never
// changes here.
func (n *WebhookNotifier) Update(ctx context.Context, ownerID int64, id string, name, url *string, events []string, enabled *bool) (*models.WebhookEndpoint, error) {
	ep, err := n.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if url != nil {
		if err := validation.ValidateWebhookURL(*url); err != nil {
			return nil, err
		}
		ep.URL = *url
	}
	if events != nil {
		if err := validation.ValidateEventNames(events, models.KnownEvents); err != nil {
			return nil, err
		}
		ep.Events = events
	}
	if name != nil {
		ep.Name = *name
	}
	if enabled != nil {
		ep.Enabled = *enabled
	}

	if err := n.store.UpdateWebhookEndpoint(ctx, ep); err != nil {
		return nil, apperrors.NewDatabaseError("update webhook endpoint", err)
	}
	return ep, nil
}

// RotateSecret replaces the endpoint's signing secret. The new
// plaintext secret is returned exactly once, like at registration.
func (n *WebhookNotifier) RotateSecret(ctx context.Context, ownerID int64, id string) (*models.WebhookEndpoint, error) {
	ep, err := n.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to generate webhook secret")
	}
	if err := n.store.RotateWebhookSecret(ctx, id, ownerID, secret); err != nil {
		return nil, apperrors.NewDatabaseError("rotate webhook secret", err)
	}
	ep.Secret = secret

	n.logger.WithField("webhookId", id).Info("Webhook secret rotated")
	return ep, nil
}

// Unregister removes the endpoint and its logs.
func (n *WebhookNotifier) Unregister(ctx context.Context, ownerID int64, id string) error {
	deleted, err := n.store.DeleteWebhookEndpoint(ctx, id, ownerID)
	if err != nil {
		return apperrors.NewDatabaseError("delete webhook endpoint", err)
	}
	if !deleted {
		return apperrors.NewNotFoundError("webhook", id)
	}
	n.logger.WithField("webhookId", id).Info("Webhook endpoint removed")
	return nil
}

func (n *WebhookNotifier) Get(ctx context.Context, ownerID int64, id string) (*models.WebhookEndpoint, error) {
	ep, err := n.store.GetWebhookEndpoint(ctx, id, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get webhook endpoint", err)
	}
	if ep == nil {
		return nil, apperrors.NewNotFoundError("webhook", id)
	}
	return ep, nil
}

func (n *WebhookNotifier) List(ctx context.Context, ownerID int64) ([]*models.WebhookEndpoint, error) {
	endpoints, err := n.store.ListWebhookEndpoints(ctx, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list webhook endpoints", err)
	}
	return endpoints, nil
}

// Logs returns the newest delivery records for an owner's endpoint.
func (n *WebhookNotifier) Logs(ctx context.Context, ownerID int64, id string, limit int) ([]*models.WebhookDeliveryLog, error) {
	if _, err := n.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > constants.WebhookLogPageSize {
		limit = constants.WebhookLogPageSize
	}
	logs, err := n.store.ListWebhookDeliveryLogs(ctx, id, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list webhook delivery logs", err)
	}
	return logs, nil
}

// Test sends a webhook.test event to one endpoint synchronously and
// reports the outcome, regardless of the endpoint's subscriptions.
func (n *WebhookNotifier) Test(ctx context.Context, ownerID int64, id string) (*models.WebhookDeliveryLog, error) {
	ep, err := n.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	log := n.deliver(ctx, ep, models.EventWebhookTest, map[string]interface{}{
		"message": "Test webhook delivery",
	})
	return log, nil
}

// Notify fans one event out to every enabled, subscribed endpoint of
// the owner. Endpoints are contacted concurrently; one slow or broken
// endpoint does not delay the others.
func (n *WebhookNotifier) Notify(ctx context.Context, ownerID int64, event string, data interface{}) (*models.NotifyResult, error) {
	endpoints, err := n.store.ListEnabledWebhookEndpoints(ctx, ownerID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list webhook endpoints", err)
	}

	result := &models.NotifyResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ep := range endpoints {
		if !ep.Subscribed(event) {
			continue
		}
		wg.Add(1)
		go func(ep *models.WebhookEndpoint) {
			defer wg.Done()
			log := n.deliver(ctx, ep, event, data)
			mu.Lock()
			if log.Success {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(ep)
	}
	wg.Wait()
	return result, nil
}

// Emit runs Notify in the background. State transitions call this so
// webhook latency never leaks into queue processing.
func (n *WebhookNotifier) Emit(ownerID int64, event string, data interface{}) {
	n.emitWg.Add(1)
	go func() {
		defer n.emitWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.emitTimeout)
		defer cancel()
		if _, err := n.Notify(ctx, ownerID, event, data); err != nil {
			n.logger.WithError(err).WithField("event", event).Error("Webhook fan-out failed")
		}
	}()
}

// Drain waits for in-flight emissions, used during shutdown.
func (n *WebhookNotifier) Drain() {
	n.emitWg.Wait()
}

// deliver signs and POSTs one event to one endpoint, logging the
// attempt. The signature covers the exact bytes on the wire.
func (n *WebhookNotifier) deliver(ctx context.Context, ep *models.WebhookEndpoint, event string, data interface{}) *models.WebhookDeliveryLog {
	payload := models.WebhookEvent{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(models.EventTimestampLayout),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{}`)
	}

	log := &models.WebhookDeliveryLog{
		EndpointID: ep.ID,
		Event:      event,
		URL:        ep.URL,
		Payload:    string(body),
	}

	statusCode, responseBody, deliverErr := n.post(ctx, ep, event, body)
	log.StatusCode = statusCode
	log.Response = responseBody
	log.Success = deliverErr == nil && statusCode >= 200 && statusCode < 300
	if deliverErr != nil {
		log.ErrorMessage = deliverErr.Error()
	} else if !log.Success {
		log.ErrorMessage = fmt.Sprintf("endpoint returned status %d", statusCode)
	}

	if err := n.store.InsertWebhookDeliveryLog(ctx, log); err != nil {
		n.logger.WithError(err).WithField("webhookId", ep.ID).Warn("Failed to record webhook delivery")
	}
	if err := n.store.RecordWebhookResult(ctx, ep.ID, log.Success, time.Now().UTC()); err != nil {
		n.logger.WithError(err).WithField("webhookId", ep.ID).Warn("Failed to update webhook counters")
	}

	if !log.Success {
		n.logger.WithFields(logrus.Fields{
			"webhookId":  ep.ID,
			"event":      event,
			"statusCode": statusCode,
			"error":      log.ErrorMessage,
		}).Warn("Webhook delivery failed")
	}
	return log
}

func (n *WebhookNotifier) post(ctx context.Context, ep *models.WebhookEndpoint, event string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", apperrors.NewWebhookError(ep.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Signature", signature.Sign(ep.Secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, "", apperrors.NewWebhookError(ep.URL, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxWebhookRespSnippet))
	return resp.StatusCode, string(respBody), nil
}

func generateSecret() (string, error) {
	buf := make([]byte, constants.WebhookSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
