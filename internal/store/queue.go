package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/models"
)

// idempotencyKey computes a deterministic key collapsing same-day enqueues
// of the same message type for the same user into a single row: a
// duplicate enqueue reports queued=false instead of erroring.
func idempotencyKey(userID string, msgType models.MessageType, dayBucket string) string {
	sum := sha256.Sum256([]byte(string(userID) + "|" + string(msgType) + "|" + dayBucket))
	return hex.EncodeToString(sum[:])
}

// Enqueue inserts a message queue row if one does not already exist for
// today's idempotency key. A collision on the unique index is reported via
// queued=false, not an error: enqueue is idempotent.
func Enqueue(ctx context.Context, db *sql.DB, c clock.Clock, userID string, msgType models.MessageType, key string, params map[string]string, destination models.Destination, address string) (queued bool, err error) {
	now := c.Now()
	dayBucket := now.UTC().Format("2006-01-02")
	idemKey := idempotencyKey(userID, msgType, dayBucket)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return false, fmt.Errorf("marshal message params: %w", err)
	}

	err = Transact(ctx, db, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO message_queue
				(id, user_id, message_type, message_key, message_params, destination,
				 destination_address, idempotency_key, status, attempts, created_at, scheduled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		`,
			newID("mq"), userID, msgType, key, string(paramsJSON), destination,
			address, idemKey, models.MessageStatusPending,
			now.Format(timeLayout), now.Format(timeLayout),
		)
		return execErr
	})
	if err != nil {
		if isUniqueConstraintViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue message: %w", err)
	}
	return true, nil
}

// ClaimNextPending returns up to limit pending rows ordered by oldest
// scheduled_at first, for the drain-side Sender to process.
func ClaimNextPending(ctx context.Context, q Querier, limit int) ([]models.MessageQueueRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, message_type, message_key, message_params, destination,
		       destination_address, idempotency_key, status, attempts, created_at, scheduled_at
		FROM message_queue WHERE status = ? ORDER BY scheduled_at LIMIT ?
	`, models.MessageStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MessageQueueRow
	for rows.Next() {
		r, err := scanMessageQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending messages: %w", err)
	}
	return out, nil
}

// MarkSent transitions a queued row to sent.
func MarkSent(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE message_queue SET status = ? WHERE id = ?`, models.MessageStatusSent, id)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// MarkFailed increments attempts and marks the row failed once it has
// exhausted maxRetries; otherwise leaves it pending for another drain pass.
func MarkFailed(ctx context.Context, db *sql.DB, id string, maxRetries int) error {
	return Transact(ctx, db, func(tx *sql.Tx) error {
		var attempts int
		if err := tx.QueryRowContext(ctx, `SELECT attempts FROM message_queue WHERE id = ?`, id).Scan(&attempts); err != nil {
			return fmt.Errorf("read message attempts: %w", err)
		}
		attempts++

		status := models.MessageStatusPending
		if attempts >= maxRetries {
			status = models.MessageStatusFailed
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE message_queue SET attempts = ?, status = ? WHERE id = ?
		`, attempts, status, id)
		if err != nil {
			return fmt.Errorf("update message attempts: %w", err)
		}
		return nil
	})
}

func scanMessageQueueRow(rows *sql.Rows) (models.MessageQueueRow, error) {
	var r models.MessageQueueRow
	var paramsJSON, createdAt, scheduledAt string

	if err := rows.Scan(
		&r.ID, &r.UserID, &r.MessageType, &r.MessageKey, &paramsJSON, &r.Destination,
		&r.DestinationAddress, &r.IdempotencyKey, &r.Status, &r.Attempts, &createdAt, &scheduledAt,
	); err != nil {
		return models.MessageQueueRow{}, fmt.Errorf("scan message queue row: %w", err)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &r.MessageParams); err != nil {
		return models.MessageQueueRow{}, fmt.Errorf("unmarshal message params: %w", err)
	}
	var err error
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return models.MessageQueueRow{}, fmt.Errorf("parse message created_at: %w", err)
	}
	if r.ScheduledAt, err = time.Parse(timeLayout, scheduledAt); err != nil {
		return models.MessageQueueRow{}, fmt.Errorf("parse message scheduled_at: %w", err)
	}
	return r, nil
}
