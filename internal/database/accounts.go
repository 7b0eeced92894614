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

// Integration, contact and API key storage. Integration configs hold
// provider credentials, so they pass through the encryptor like
// webhook secrets do.

func (d *Database) CreateIntegration(ctx context.Context, in *models.Integration) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Status == "" {
		in.Status = models.IntegrationActive
	}

	raw, err := in.Config.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode integration config: %w", err)
	}
	config, err := d.encryptor.EncryptIfEnabled(string(raw))
	if err != nil {
		return fmt.Errorf("failed to encrypt integration config: %w", err)
	}

	query := `
		INSERT INTO integrations (id, owner_id, name, type, status, config, rate_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return withRetry(ctx, "create integration", func() error {
		_, err := d.db.ExecContext(ctx, query,
			in.ID, in.OwnerID, in.Name, string(in.Type), string(in.Status), config, in.RateLimit,
			in.CreatedAt, in.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create integration: %w", err)
		}
		return nil
	})
}

// GetIntegration returns the integration or nil when absent.
func (d *Database) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	query := `
		SELECT id, owner_id, name, type, status, config, rate_limit,
		       messages_sent, messages_failed, created_at, updated_at
		FROM integrations WHERE id = ?
	`
	return d.scanIntegrationRow(d.db.QueryRowContext(ctx, query, id))
}

// GetOwnedIntegration returns the integration only when it belongs to
// ownerID.
func (d *Database) GetOwnedIntegration(ctx context.Context, id string, ownerID int64) (*models.Integration, error) {
	query := `
		SELECT id, owner_id, name, type, status, config, rate_limit,
		       messages_sent, messages_failed, created_at, updated_at
		FROM integrations WHERE id = ? AND owner_id = ?
	`
	return d.scanIntegrationRow(d.db.QueryRowContext(ctx, query, id, ownerID))
}

// UpdateIntegrationStatus moves an integration between connection
// states.
func (d *Database) UpdateIntegrationStatus(ctx context.Context, id string, status models.IntegrationStatus) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update integration status: %w", err)
	}
	return nil
}

// BumpIntegrationCounters updates the lifetime sent/failed totals.
func (d *Database) BumpIntegrationCounters(ctx context.Context, id string, sent bool) error {
	var query string
	if sent {
		query = `UPDATE integrations SET messages_sent = messages_sent + 1, updated_at = ? WHERE id = ?`
	} else {
		query = `UPDATE integrations SET messages_failed = messages_failed + 1, updated_at = ? WHERE id = ?`
	}
	_, err := d.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to bump integration counters: %w", err)
	}
	return nil
}

func (d *Database) scanIntegrationRow(row *sql.Row) (*models.Integration, error) {
	in := &models.Integration{}
	var typ, status, config string

	err := row.Scan(&in.ID, &in.OwnerID, &in.Name, &typ, &status, &config, &in.RateLimit,
		&in.MessagesSent, &in.MessagesFailed, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	in.Type = models.IntegrationType(typ)
	in.Status = models.IntegrationStatus(status)

	raw, err := d.encryptor.DecryptIfEnabled(config)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt integration config: %w", err)
	}
	in.Config, err = models.DecodeChannelConfig(in.Type, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode integration config: %w", err)
	}

	return in, nil
}

// Contacts

// ResolveContact finds the contact matching the destination, creating
// one when nothing matches. Phone wins over email, email over chat id,
// mirroring how queue entries key their destination.
func (d *Database) ResolveContact(ctx context.Context, integrationID, phone, email, chatID, name string) (*models.Contact, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"phone_number", phone},
		{"email", email},
		{"chat_id", chatID},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		query := fmt.Sprintf(`
			SELECT id, integration_id, phone_number, email, chat_id, name, created_at, updated_at
			FROM contacts WHERE integration_id = ? AND %s = ?`, l.column)
		contact, err := d.scanContactRow(d.db.QueryRowContext(ctx, query, integrationID, l.value))
		if err != nil {
			return nil, err
		}
		if contact != nil {
			return contact, nil
		}
	}

	contact := &models.Contact{
		ID:            uuid.NewString(),
		IntegrationID: integrationID,
		PhoneNumber:   phone,
		Email:         email,
		ChatID:        chatID,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := withRetry(ctx, "create contact", func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO contacts (id, integration_id, phone_number, email, chat_id, name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			contact.ID, contact.IntegrationID,
			nullable(contact.PhoneNumber), nullable(contact.Email), nullable(contact.ChatID), nullable(contact.Name),
			contact.CreatedAt, contact.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create contact: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contact, nil
}

func (d *Database) scanContactRow(row *sql.Row) (*models.Contact, error) {
	c := &models.Contact{}
	var phone, email, chatID, name sql.NullString
	err := row.Scan(&c.ID, &c.IntegrationID, &phone, &email, &chatID, &name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}
	c.PhoneNumber = phone.String
	c.Email = email.String
	c.ChatID = chatID.String
	c.Name = name.String
	return c, nil
}

// API keys

func (d *Database) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	k.CreatedAt = time.Now().UTC()

	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	query := `
		INSERT INTO api_keys (id, key, owner_id, name, enabled, rate_limit, permissions, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, query,
		k.ID, k.Key, k.OwnerID, k.Name, k.Enabled, k.RateLimit, string(perms), k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByKey looks up a key by its raw value. Returns nil when
// unknown.
func (d *Database) GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error) {
	query := `
		SELECT id, key, owner_id, name, enabled, rate_limit, permissions, expires_at, last_used_at, created_at
		FROM api_keys WHERE key = ?
	`
	k := &models.APIKey{}
	var perms string
	var expiresAt, lastUsedAt sql.NullTime

	err := d.db.QueryRowContext(ctx, query, key).Scan(
		&k.ID, &k.Key, &k.OwnerID, &k.Name, &k.Enabled, &k.RateLimit, &perms,
		&expiresAt, &lastUsedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	if err := json.Unmarshal([]byte(perms), &k.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	k.ExpiresAt = timePtr(expiresAt)
	k.LastUsedAt = timePtr(lastUsedAt)
	return k, nil
}

// TouchAPIKey records key usage. Best effort, callers ignore failures.
func (d *Database) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}
