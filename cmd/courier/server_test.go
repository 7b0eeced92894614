package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courier/internal/database"
	"courier/internal/models"
	"courier/internal/ratelimit"
	"courier/internal/service"
	"courier/internal/signature"
	"courier/pkg/channel"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	externalID string
	err        error
}

func (s *stubSender) Send(ctx context.Context, dest channel.Destination, msg channel.Message) (string, error) {
	return s.externalID, s.err
}

type stubSenderFactory struct{ sender channel.Sender }

func (f *stubSenderFactory) SenderFor(*models.Integration) (channel.Sender, error) {
	return f.sender, nil
}

type serverFixture struct {
	server      *Server
	db          *database.Database
	integration *models.Integration
	adminKey    string
	readerKey   string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	integration := &models.Integration{
		OwnerID: 1,
		Name:    "chat",
		Type:    models.IntegrationWhatsApp,
		Config: models.ChannelConfig{
			WhatsApp: &models.WhatsAppConfig{APIBaseURL: "http://waha:3000", Session: "default"},
		},
	}
	require.NoError(t, db.CreateIntegration(context.Background(), integration))

	adminKey := &models.APIKey{Key: "ck_admin", OwnerID: 1, Name: "admin", Enabled: true, Permissions: []string{"*"}}
	require.NoError(t, db.CreateAPIKey(context.Background(), adminKey))
	readerKey := &models.APIKey{Key: "ck_reader", OwnerID: 1, Name: "reader", Enabled: true, Permissions: []string{}}
	require.NoError(t, db.CreateAPIKey(context.Background(), readerKey))

	sender := &stubSender{externalID: "ext-1"}
	notifier := service.NewWebhookNotifier(db, logger)
	queue := service.NewDeliveryQueue(db, &stubSenderFactory{sender: sender}, notifier, logger,
		service.WithLocation(time.UTC))

	cfg := &models.Config{}
	cfg.Server.Port = 0
	cfg.Webhook.InboundSecret = ""

	server := NewServer(cfg, queue, notifier, nil, db, ratelimit.NewLimiter(), logger)
	return &serverFixture{server: server, db: db, integration: integration, adminKey: "ck_admin", readerKey: "ck_reader"}
}

func (fx *serverFixture) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	fx.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Contains(t, body, "counters")
	assert.Contains(t, body, "uptime_ms")
}

func TestAPIRequiresKey(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/v1/queue/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodGet, "/v1/queue/stats", "ck_wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessageFlow(t *testing.T) {
	fx := newServerFixture(t)

	// An explicit past schedule keeps the entry queue-driven no matter
	// the wall-clock hour the test runs at.
	rec := fx.do(t, http.MethodPost, "/v1/messages/send", fx.adminKey, map[string]interface{}{
		"integrationId": fx.integration.ID,
		"toPhone":       "+5511999990000",
		"content":       "hello",
		"scheduledAt":   "2020-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry models.QueueEntry
	decodeBody(t, rec, &entry)
	require.NotEmpty(t, entry.ID)
	assert.Equal(t, models.QueueStatusScheduled, entry.Status)

	rec = fx.do(t, http.MethodGet, "/v1/messages/"+entry.ID, fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodPost, "/v1/queue/run", fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.RunSummary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 1, summary.Sent)

	rec = fx.do(t, http.MethodGet, "/v1/messages/"+entry.ID+"/attempts", fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var attempts struct {
		Attempts []*models.QueueAttempt `json:"attempts"`
	}
	decodeBody(t, rec, &attempts)
	require.Len(t, attempts.Attempts, 1)
	assert.Equal(t, "SENT", attempts.Attempts[0].Status)

	rec = fx.do(t, http.MethodGet, "/v1/queue/stats", fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.QueueStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Sent)
}

func TestSendMessageRejectsBadPayload(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/messages/send", fx.adminKey, map[string]interface{}{
		"integrationId": fx.integration.ID,
		"content":       "hello",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodGet, "/v1/messages/nonexistent", fx.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionEnforcement(t *testing.T) {
	fx := newServerFixture(t)

	// The reader key can read stats but not send.
	rec := fx.do(t, http.MethodGet, "/v1/queue/stats", fx.readerKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodPost, "/v1/messages/send", fx.readerKey, map[string]interface{}{
		"integrationId": fx.integration.ID,
		"toPhone":       "+5511999990000",
		"content":       "hello",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = fx.do(t, http.MethodPost, "/v1/queue/run", fx.readerKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelMessageEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/messages/send", fx.adminKey, map[string]interface{}{
		"integrationId": fx.integration.ID,
		"toPhone":       "+5511999990000",
		"content":       "hello",
		"scheduledAt":   "2100-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry models.QueueEntry
	decodeBody(t, rec, &entry)

	rec = fx.do(t, http.MethodPost, "/v1/messages/"+entry.ID+"/cancel", fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled models.QueueEntry
	decodeBody(t, rec, &cancelled)
	assert.Equal(t, models.QueueStatusCancelled, cancelled.Status)

	// A terminal entry is no longer cancellable under that id.
	rec = fx.do(t, http.MethodPost, "/v1/messages/"+entry.ID+"/cancel", fx.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookEndpoints(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodPost, "/v1/webhooks", fx.adminKey, map[string]interface{}{
		"name":   "ops",
		"url":    "https://hooks.example.com/courier",
		"events": []string{"message.sent"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Webhook models.WebhookEndpoint `json:"webhook"`
		Secret  string                 `json:"secret"`
	}
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.Webhook.ID)
	assert.Len(t, created.Secret, 64)

	rec = fx.do(t, http.MethodGet, "/v1/webhooks", fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Webhooks []models.WebhookEndpoint `json:"webhooks"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Webhooks, 1)

	// The secret never appears outside registration.
	assert.NotContains(t, rec.Body.String(), created.Secret)

	rec = fx.do(t, http.MethodPatch, "/v1/webhooks/"+created.Webhook.ID, fx.adminKey, map[string]interface{}{
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.WebhookEndpoint
	decodeBody(t, rec, &updated)
	assert.False(t, updated.Enabled)

	rec = fx.do(t, http.MethodPost, "/v1/webhooks", fx.readerKey, map[string]interface{}{
		"url":    "https://hooks.example.com/other",
		"events": []string{"message.sent"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = fx.do(t, http.MethodDelete, "/v1/webhooks/"+created.Webhook.ID, fx.adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = fx.do(t, http.MethodGet, "/v1/webhooks/"+created.Webhook.ID, fx.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func sendAndDeliver(t *testing.T, fx *serverFixture) models.QueueEntry {
	t.Helper()
	rec := fx.do(t, http.MethodPost, "/v1/messages/send", fx.adminKey, map[string]interface{}{
		"integrationId":  fx.integration.ID,
		"toPhone":        "+5511999990000",
		"content":        "hello",
		"forceImmediate": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry models.QueueEntry
	decodeBody(t, rec, &entry)

	// The forced send is synchronous; the entry comes back SENT.
	require.Equal(t, models.QueueStatusSent, entry.Status)
	require.Equal(t, "ext-1", entry.ExternalID)
	return entry
}

func TestStatusCallbackWithoutSecret(t *testing.T) {
	fx := newServerFixture(t)
	entry := sendAndDeliver(t, fx)

	rec := fx.do(t, http.MethodPost, "/webhook/status", "", map[string]string{
		"externalId": "ext-1",
		"status":     "delivered",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := fx.db.GetQueueEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeliveredAt)
}

func TestStatusCallbackRejections(t *testing.T) {
	fx := newServerFixture(t)
	sendAndDeliver(t, fx)

	rec := fx.do(t, http.MethodPost, "/webhook/status", "", map[string]string{
		"externalId": "ext-1",
		"status":     "teleported",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/webhook/status", "", map[string]string{
		"status": "delivered",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/webhook/status", "", map[string]string{
		"externalId": "unknown-ext",
		"status":     "delivered",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusCallbackSignatureVerification(t *testing.T) {
	fx := newServerFixture(t)
	fx.server.cfg.Webhook.InboundSecret = "0123456789abcdef0123456789abcdef"
	entry := sendAndDeliver(t, fx)

	body, err := json.Marshal(map[string]string{
		"externalId": "ext-1",
		"status":     "read",
	})
	require.NoError(t, err)

	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook/status", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set("X-Webhook-Signature", sig)
		}
		rec := httptest.NewRecorder()
		fx.server.router.ServeHTTP(rec, req)
		return rec
	}

	rec := post("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post("deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(signature.Sign(fx.server.cfg.Webhook.InboundSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := fx.db.GetQueueEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ReadAt)
}

func TestRateLimitHeadersOnAPI(t *testing.T) {
	fx := newServerFixture(t)

	rec := fx.do(t, http.MethodGet, "/v1/queue/stats", fx.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fmt.Sprintf("%d", 60), rec.Header().Get("X-RateLimit-Limit"))
}
