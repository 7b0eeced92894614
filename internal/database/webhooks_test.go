package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"courier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestEndpoint(t *testing.T, db *Database, ownerID int64) *models.WebhookEndpoint {
	t.Helper()
	ep := &models.WebhookEndpoint{
		OwnerID: ownerID,
		Name:    "ops hook",
		URL:     "https://hooks.example.com/courier",
		Secret:  "shh-very-secret",
		Events:  []string{models.EventMessageSent, models.EventMessageFailed},
		Enabled: true,
	}
	require.NoError(t, db.CreateWebhookEndpoint(context.Background(), ep))
	return ep
}

func TestWebhookEndpointRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ep := createTestEndpoint(t, db, 1)
	require.NotEmpty(t, ep.ID)

	got, err := db.GetWebhookEndpoint(ctx, ep.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ops hook", got.Name)
	assert.Equal(t, "shh-very-secret", got.Secret)
	assert.Equal(t, []string{models.EventMessageSent, models.EventMessageFailed}, got.Events)
	assert.True(t, got.Enabled)

	got, err = db.GetWebhookEndpoint(ctx, ep.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListWebhookEndpoints(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestEndpoint(t, db, 1)
	disabled := createTestEndpoint(t, db, 1)
	disabled.Enabled = false
	require.NoError(t, db.UpdateWebhookEndpoint(ctx, disabled))
	createTestEndpoint(t, db, 2)

	all, err := db.ListWebhookEndpoints(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := db.ListEnabledWebhookEndpoints(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestUpdateWebhookEndpoint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ep := createTestEndpoint(t, db, 1)
	ep.Name = "renamed"
	ep.URL = "https://hooks.example.com/v2"
	ep.Events = []string{models.EventMessageRead}
	ep.Enabled = false
	require.NoError(t, db.UpdateWebhookEndpoint(ctx, ep))

	got, err := db.GetWebhookEndpoint(ctx, ep.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "https://hooks.example.com/v2", got.URL)
	assert.Equal(t, []string{models.EventMessageRead}, got.Events)
	assert.False(t, got.Enabled)
	// Update never touches the secret.
	assert.Equal(t, "shh-very-secret", got.Secret)
}

func TestUpdateWebhookEndpointMissing(t *testing.T) {
	db := setupTestDB(t)

	ep := &models.WebhookEndpoint{ID: "nope", OwnerID: 1, Name: "x", URL: "https://x", Events: []string{}}
	err := db.UpdateWebhookEndpoint(context.Background(), ep)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRotateWebhookSecret(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ep := createTestEndpoint(t, db, 1)
	require.NoError(t, db.RotateWebhookSecret(ctx, ep.ID, 1, "fresh-secret"))

	got, err := db.GetWebhookEndpoint(ctx, ep.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "fresh-secret", got.Secret)
}

func TestDeleteWebhookEndpoint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ep := createTestEndpoint(t, db, 1)

	deleted, err := db.DeleteWebhookEndpoint(ctx, ep.ID, 2)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = db.DeleteWebhookEndpoint(ctx, ep.ID, 1)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := db.GetWebhookEndpoint(ctx, ep.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordWebhookResult(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ep := createTestEndpoint(t, db, 1)
	require.NoError(t, db.RecordWebhookResult(ctx, ep.ID, true, now))
	require.NoError(t, db.RecordWebhookResult(ctx, ep.ID, true, now))
	require.NoError(t, db.RecordWebhookResult(ctx, ep.ID, false, now))

	got, err := db.GetWebhookEndpoint(ctx, ep.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalSent)
	assert.Equal(t, int64(1), got.TotalFailed)
	require.NotNil(t, got.LastSentAt)
}

func TestWebhookDeliveryLogs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ep := createTestEndpoint(t, db, 1)
	for i := 0; i < 3; i++ {
		log := &models.WebhookDeliveryLog{
			EndpointID: ep.ID,
			Event:      models.EventMessageSent,
			URL:        ep.URL,
			Payload:    fmt.Sprintf(`{"n":%d}`, i),
			Response:   "ok",
			StatusCode: 200,
			Success:    true,
		}
		require.NoError(t, db.InsertWebhookDeliveryLog(ctx, log))
		time.Sleep(5 * time.Millisecond)
	}

	logs, err := db.ListWebhookDeliveryLogs(ctx, ep.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Newest first.
	assert.Equal(t, `{"n":2}`, logs[0].Payload)
	assert.Equal(t, `{"n":1}`, logs[1].Payload)

	logs, err = db.ListWebhookDeliveryLogs(ctx, ep.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}
