package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courier/internal/models"

	"github.com/google/uuid"
)

// Webhook endpoint operations. Signing secrets pass through the
// encryptor so a copied database file does not leak them.

func (d *Database) CreateWebhookEndpoint(ctx context.Context, ep *models.WebhookEndpoint) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ep.CreatedAt = now
	ep.UpdatedAt = now

	secret, err := d.encryptor.EncryptIfEnabled(ep.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("failed to encode webhook events: %w", err)
	}

	query := `
		INSERT INTO webhook_endpoints (id, owner_id, name, url, secret, events, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return withRetry(ctx, "create webhook endpoint", func() error {
		_, err := d.db.ExecContext(ctx, query,
			ep.ID, ep.OwnerID, ep.Name, ep.URL, secret, string(events), ep.Enabled,
			ep.CreatedAt, ep.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create webhook endpoint: %w", err)
		}
		return nil
	})
}

// GetWebhookEndpoint returns the owner's endpoint or nil when absent.
func (d *Database) GetWebhookEndpoint(ctx context.Context, id string, ownerID int64) (*models.WebhookEndpoint, error) {
	query := `
		SELECT id, owner_id, name, url, secret, events, enabled,
		       total_sent, total_failed, last_sent_at, created_at, updated_at
		FROM webhook_endpoints WHERE id = ? AND owner_id = ?
	`
	ep, err := d.scanWebhookEndpoint(d.db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ep, nil
}

// ListWebhookEndpoints returns all of an owner's endpoints, newest
// first.
func (d *Database) ListWebhookEndpoints(ctx context.Context, ownerID int64) ([]*models.WebhookEndpoint, error) {
	return d.queryWebhookEndpoints(ctx, `
		SELECT id, owner_id, name, url, secret, events, enabled,
		       total_sent, total_failed, last_sent_at, created_at, updated_at
		FROM webhook_endpoints WHERE owner_id = ?
		ORDER BY created_at DESC`, ownerID)
}

// ListEnabledWebhookEndpoints returns the endpoints that should
// receive event fan-out for an owner.
func (d *Database) ListEnabledWebhookEndpoints(ctx context.Context, ownerID int64) ([]*models.WebhookEndpoint, error) {
	return d.queryWebhookEndpoints(ctx, `
		SELECT id, owner_id, name, url, secret, events, enabled,
		       total_sent, total_failed, last_sent_at, created_at, updated_at
		FROM webhook_endpoints WHERE owner_id = ? AND enabled = 1`, ownerID)
}

// UpdateWebhookEndpoint rewrites the mutable fields. The secret is
// never changed here; rotation goes through RotateWebhookSecret.
func (d *Database) UpdateWebhookEndpoint(ctx context.Context, ep *models.WebhookEndpoint) error {
	events, err := json.Marshal(ep.Events)
	if err != nil {
		return fmt.Errorf("failed to encode webhook events: %w", err)
	}
	query := `
		UPDATE webhook_endpoints
		SET name = ?, url = ?, events = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		ep.Name, ep.URL, string(events), ep.Enabled, time.Now().UTC(), ep.ID, ep.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to update webhook endpoint: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateWebhookSecret stores a freshly generated signing secret.
func (d *Database) RotateWebhookSecret(ctx context.Context, id string, ownerID int64, secret string) error {
	enc, err := d.encryptor.EncryptIfEnabled(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}
	result, err := d.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET secret = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		enc, time.Now().UTC(), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to rotate webhook secret: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *Database) DeleteWebhookEndpoint(ctx context.Context, id string, ownerID int64) (bool, error) {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM webhook_delivery_logs WHERE endpoint_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete webhook logs: %w", err)
	}
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM webhook_endpoints WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete webhook endpoint: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// RecordWebhookResult bumps the endpoint counters after a delivery
// attempt.
func (d *Database) RecordWebhookResult(ctx context.Context, endpointID string, success bool, now time.Time) error {
	var query string
	if success {
		query = `UPDATE webhook_endpoints SET total_sent = total_sent + 1, last_sent_at = ?, updated_at = ? WHERE id = ?`
	} else {
		query = `UPDATE webhook_endpoints SET total_failed = total_failed + 1, last_sent_at = ?, updated_at = ? WHERE id = ?`
	}
	_, err := d.db.ExecContext(ctx, query, now.UTC(), now.UTC(), endpointID)
	if err != nil {
		return fmt.Errorf("failed to record webhook result: %w", err)
	}
	return nil
}

// InsertWebhookDeliveryLog appends one delivery record. Logs are
// append-only; nothing updates them after the fact.
func (d *Database) InsertWebhookDeliveryLog(ctx context.Context, log *models.WebhookDeliveryLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	log.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO webhook_delivery_logs (id, endpoint_id, event, url, payload, response, status_code, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		log.ID, log.EndpointID, log.Event, log.URL, log.Payload,
		nullable(log.Response), log.StatusCode, log.Success, nullable(log.ErrorMessage), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook delivery log: %w", err)
	}
	return nil
}

// ListWebhookDeliveryLogs returns the newest delivery records for an
// endpoint.
func (d *Database) ListWebhookDeliveryLogs(ctx context.Context, endpointID string, limit int) ([]*models.WebhookDeliveryLog, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, endpoint_id, event, url, payload, response, status_code, success, error_message, created_at
		FROM webhook_delivery_logs
		WHERE endpoint_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.WebhookDeliveryLog
	for rows.Next() {
		l := &models.WebhookDeliveryLog{}
		var response, errorMessage sql.NullString
		var statusCode sql.NullInt64
		if err := rows.Scan(&l.ID, &l.EndpointID, &l.Event, &l.URL, &l.Payload,
			&response, &statusCode, &l.Success, &errorMessage, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery log: %w", err)
		}
		l.Response = response.String
		l.StatusCode = int(statusCode.Int64)
		l.ErrorMessage = errorMessage.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (d *Database) queryWebhookEndpoints(ctx context.Context, query string, args ...interface{}) ([]*models.WebhookEndpoint, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.WebhookEndpoint
	for rows.Next() {
		ep, err := d.scanWebhookEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (d *Database) scanWebhookEndpoint(row rowScanner) (*models.WebhookEndpoint, error) {
	ep := &models.WebhookEndpoint{}
	var secret, events string
	var lastSentAt sql.NullTime

	err := row.Scan(&ep.ID, &ep.OwnerID, &ep.Name, &ep.URL, &secret, &events, &ep.Enabled,
		&ep.TotalSent, &ep.TotalFailed, &lastSentAt, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
	}

	ep.Secret, err = d.encryptor.DecryptIfEnabled(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt webhook secret: %w", err)
	}
	if err := json.Unmarshal([]byte(events), &ep.Events); err != nil {
		return nil, fmt.Errorf("failed to decode webhook events: %w", err)
	}
	ep.LastSentAt = timePtr(lastSentAt)

	return ep, nil
}
