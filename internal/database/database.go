package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courier/internal/migrations"
	"courier/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single writer keeps the row-claim updates serialized.
	db.SetMaxOpenConns(1)

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Queue entry operations

const queueEntryColumns = `id, owner_id, integration_id, to_phone, to_email, to_chat_id, to_name,
	contact_id, content, media_url, media_type, status, priority, scheduled_at,
	min_interval, current_retry, max_retries, last_attempt_at, sent_at, delivered_at,
	read_at, failed_at, cancelled_at, external_id, error_message, created_at, updated_at`

// CreateQueueEntry persists a new entry. A missing ID is generated.
func (d *Database) CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	query := `
		INSERT INTO queue_entries (
			id, owner_id, integration_id, to_phone, to_email, to_chat_id, to_name,
			contact_id, content, media_url, media_type, status, priority, scheduled_at,
			min_interval, current_retry, max_retries, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withRetry(ctx, "create queue entry", func() error {
		_, err := d.db.ExecContext(ctx, query,
			entry.ID, entry.OwnerID, entry.IntegrationID,
			nullable(entry.ToPhone), nullable(entry.ToEmail), nullable(entry.ToChatID), nullable(entry.ToName),
			nullable(entry.ContactID), entry.Content, nullable(entry.MediaURL), nullable(entry.MediaType),
			string(entry.Status), entry.Priority, entry.ScheduledAt,
			entry.MinInterval, entry.CurrentRetry, entry.MaxRetries,
			entry.CreatedAt, entry.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create queue entry: %w", err)
		}
		return nil
	})
}

// GetQueueEntry returns the entry or nil when absent.
func (d *Database) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = ?`
	return d.scanQueueEntryRow(d.db.QueryRowContext(ctx, query, id))
}

// GetOwnedQueueEntry returns the entry only when it belongs to ownerID.
func (d *Database) GetOwnedQueueEntry(ctx context.Context, id string, ownerID int64) (*models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = ? AND owner_id = ?`
	return d.scanQueueEntryRow(d.db.QueryRowContext(ctx, query, id, ownerID))
}

// GetQueueEntryByExternalID resolves a provider message id back to the
// queue entry. Used by out-of-band status callbacks.
func (d *Database) GetQueueEntryByExternalID(ctx context.Context, externalID string) (*models.QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE external_id = ?`
	return d.scanQueueEntryRow(d.db.QueryRowContext(ctx, query, externalID))
}

// SelectEligibleEntries returns up to limit entries that are due at
// now: status PENDING or SCHEDULED, scheduled_at unset or elapsed,
// highest priority first and FIFO within a priority tier. Dedup and
// the min-interval guard are applied by the caller on this batch.
func (d *Database) SelectEligibleEntries(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + queueEntryColumns + `
		FROM queue_entries
		WHERE status IN (?, ?)
		  AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query,
		string(models.QueueStatusPending), string(models.QueueStatusScheduled), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := d.scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ClaimQueueEntry atomically moves an entry from PENDING/SCHEDULED to
// PROCESSING, stamping the attempt. The conditional update guarantees
// that two drivers can never claim the same entry: only one update
// matches the expected prior status.
func (d *Database) ClaimQueueEntry(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE queue_entries
		SET status = ?, last_attempt_at = ?, current_retry = current_retry + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	var claimed bool
	err := withRetry(ctx, "claim queue entry", func() error {
		result, err := d.db.ExecContext(ctx, query,
			string(models.QueueStatusProcessing), now.UTC(), now.UTC(), id,
			string(models.QueueStatusPending), string(models.QueueStatusScheduled))
		if err != nil {
			return fmt.Errorf("failed to claim queue entry: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		claimed = rows == 1
		return nil
	})
	return claimed, err
}

// MarkEntrySent finalizes a successful dispatch.
func (d *Database) MarkEntrySent(ctx context.Context, id, externalID string, now time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = ?, sent_at = ?, external_id = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.execStatusUpdate(ctx, "mark entry sent", query,
		string(models.QueueStatusSent), now.UTC(), externalID, now.UTC(), id, string(models.QueueStatusProcessing))
}

// MarkEntryFailed finalizes an exhausted entry.
func (d *Database) MarkEntryFailed(ctx context.Context, id, errorMessage string, now time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = ?, failed_at = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.execStatusUpdate(ctx, "mark entry failed", query,
		string(models.QueueStatusFailed), now.UTC(), errorMessage, now.UTC(), id, string(models.QueueStatusProcessing))
}

// RequeueEntry returns a failed attempt to PENDING for the next tick.
func (d *Database) RequeueEntry(ctx context.Context, id, errorMessage string, now time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return d.execStatusUpdate(ctx, "requeue entry", query,
		string(models.QueueStatusPending), errorMessage, now.UTC(), id, string(models.QueueStatusProcessing))
}

// CancelQueueEntry cancels an owner's entry while it is still
// PENDING/SCHEDULED. Returns false when no row matched, which covers
// unknown ids, foreign owners and entries already past dispatch.
func (d *Database) CancelQueueEntry(ctx context.Context, id string, ownerID int64, now time.Time) (bool, error) {
	query := `
		UPDATE queue_entries
		SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status IN (?, ?)
	`

	result, err := d.db.ExecContext(ctx, query,
		string(models.QueueStatusCancelled), now.UTC(), now.UTC(), id, ownerID,
		string(models.QueueStatusPending), string(models.QueueStatusScheduled))
	if err != nil {
		return false, fmt.Errorf("failed to cancel queue entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// SetEntryDelivered stamps the delivered timestamp from a channel
// status callback.
func (d *Database) SetEntryDelivered(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE queue_entries SET delivered_at = ?, updated_at = ? WHERE id = ?`
	_, err := d.db.ExecContext(ctx, query, now.UTC(), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set delivered timestamp: %w", err)
	}
	return nil
}

// SetEntryRead stamps the read timestamp from a channel status
// callback.
func (d *Database) SetEntryRead(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE queue_entries SET read_at = ?, updated_at = ? WHERE id = ?`
	_, err := d.db.ExecContext(ctx, query, now.UTC(), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set read timestamp: %w", err)
	}
	return nil
}

// PurgeTerminalEntries deletes SENT/FAILED/CANCELLED entries created
// before the cutoff, oldest housekeeping first. Attempt rows go with
// their entries.
func (d *Database) PurgeTerminalEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := d.db.ExecContext(ctx, `
		DELETE FROM queue_attempts
		WHERE queue_id IN (
			SELECT id FROM queue_entries
			WHERE created_at < ? AND status IN (?, ?, ?)
		)`, cutoff.UTC(),
		string(models.QueueStatusSent), string(models.QueueStatusFailed), string(models.QueueStatusCancelled)); err != nil {
		return 0, fmt.Errorf("failed to purge queue attempts: %w", err)
	}

	result, err := d.db.ExecContext(ctx, `
		DELETE FROM queue_entries
		WHERE created_at < ? AND status IN (?, ?, ?)`,
		cutoff.UTC(),
		string(models.QueueStatusSent), string(models.QueueStatusFailed), string(models.QueueStatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue entries: %w", err)
	}
	return result.RowsAffected()
}

// GetQueueStats returns per-status counts for one owner.
func (d *Database) GetQueueStats(ctx context.Context, ownerID int64) (*models.QueueStats, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue_entries WHERE owner_id = ? GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch models.QueueStatus(status) {
		case models.QueueStatusPending:
			stats.Pending = count
		case models.QueueStatusScheduled:
			stats.Scheduled = count
		case models.QueueStatusProcessing:
			stats.Processing = count
		case models.QueueStatusSent:
			stats.Sent = count
		case models.QueueStatusFailed:
			stats.Failed = count
		case models.QueueStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// Attempt bookkeeping

// CreateQueueAttempt records the start of one dispatch attempt.
func (d *Database) CreateQueueAttempt(ctx context.Context, queueID string, attemptNumber int) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO queue_attempts (id, queue_id, attempt_number, status, created_at)
		VALUES (?, ?, ?, 'PENDING', ?)
	`
	_, err := d.db.ExecContext(ctx, query, id, queueID, attemptNumber, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create queue attempt: %w", err)
	}
	return id, nil
}

// CompleteQueueAttempt finalizes an attempt row with the provider
// outcome.
func (d *Database) CompleteQueueAttempt(ctx context.Context, attemptID, status string, responseCode int, responseMessage, externalID, failureReason string) error {
	query := `
		UPDATE queue_attempts
		SET status = ?, response_code = ?, response_message = ?, external_id = ?, failure_reason = ?, completed_at = ?
		WHERE id = ?
	`
	_, err := d.db.ExecContext(ctx, query,
		status, responseCode, nullable(responseMessage), nullable(externalID), nullable(failureReason),
		time.Now().UTC(), attemptID)
	if err != nil {
		return fmt.Errorf("failed to complete queue attempt: %w", err)
	}
	return nil
}

// ListQueueAttempts returns the attempt history for an entry, oldest
// first.
func (d *Database) ListQueueAttempts(ctx context.Context, queueID string) ([]*models.QueueAttempt, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, queue_id, attempt_number, status, response_code, response_message,
		       external_id, failure_reason, completed_at, created_at
		FROM queue_attempts
		WHERE queue_id = ?
		ORDER BY attempt_number ASC`, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.QueueAttempt
	for rows.Next() {
		a := &models.QueueAttempt{}
		var responseCode sql.NullInt64
		var responseMessage, externalID, failureReason sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.QueueID, &a.AttemptNumber, &a.Status,
			&responseCode, &responseMessage, &externalID, &failureReason,
			&completedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue attempt: %w", err)
		}
		a.ResponseCode = int(responseCode.Int64)
		a.ResponseMessage = responseMessage.String
		a.ExternalID = externalID.String
		a.FailureReason = failureReason.String
		if completedAt.Valid {
			t := completedAt.Time
			a.CompletedAt = &t
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanQueueEntryRow(row *sql.Row) (*models.QueueEntry, error) {
	entry, err := d.scanQueueEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (d *Database) scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{}
	var toPhone, toEmail, toChatID, toName, contactID, mediaURL, mediaType, externalID, errorMessage sql.NullString
	var scheduledAt, lastAttemptAt, sentAt, deliveredAt, readAt, failedAt, cancelledAt sql.NullTime
	var status string

	err := row.Scan(
		&entry.ID, &entry.OwnerID, &entry.IntegrationID,
		&toPhone, &toEmail, &toChatID, &toName,
		&contactID, &entry.Content, &mediaURL, &mediaType,
		&status, &entry.Priority, &scheduledAt,
		&entry.MinInterval, &entry.CurrentRetry, &entry.MaxRetries,
		&lastAttemptAt, &sentAt, &deliveredAt, &readAt, &failedAt, &cancelledAt,
		&externalID, &errorMessage, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	entry.Status = models.QueueStatus(status)
	entry.ToPhone = toPhone.String
	entry.ToEmail = toEmail.String
	entry.ToChatID = toChatID.String
	entry.ToName = toName.String
	entry.ContactID = contactID.String
	entry.MediaURL = mediaURL.String
	entry.MediaType = mediaType.String
	entry.ExternalID = externalID.String
	entry.ErrorMessage = errorMessage.String
	entry.ScheduledAt = timePtr(scheduledAt)
	entry.LastAttemptAt = timePtr(lastAttemptAt)
	entry.SentAt = timePtr(sentAt)
	entry.DeliveredAt = timePtr(deliveredAt)
	entry.ReadAt = timePtr(readAt)
	entry.FailedAt = timePtr(failedAt)
	entry.CancelledAt = timePtr(cancelledAt)

	return entry, nil
}

func (d *Database) execStatusUpdate(ctx context.Context, name, query string, args ...interface{}) error {
	return withRetry(ctx, name, func() error {
		result, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to %s: %w", name, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%s: no matching entry in expected state", name)
		}
		return nil
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
