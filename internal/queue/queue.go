// Package queue wraps the durable message queue (C4) with the
// message-type-specific enqueue helpers the transition engine and sibling
// drivers call, and defines the Sender contract an external delivery
// worker implements to drain it.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/models"
	"github.com/finpal/reengage/internal/store"
)

// EnqueueGoodbye enqueues the single message type the transition engine
// itself emits. Other message types (reminder, weekly_review, welcome,
// tier_unlock, help_restart) are enqueued by sibling drivers outside this
// package but share this queue's table and idempotency semantics.
func EnqueueGoodbye(ctx context.Context, db *sql.DB, c clock.Clock, userID, locale string, destination models.Destination, address string) (bool, error) {
	return store.Enqueue(ctx, db, c, userID, models.MessageTypeGoodbye, "goodbye.default",
		map[string]string{"locale": locale}, destination, address)
}

// DrainSummary is the report returned by Sender.Drain, consumed by the
// daily driver's queue-drain phase. The driver ignores its contents when
// aggregating its own job result: a failing sender never fails the job.
type DrainSummary struct {
	Processed int
	Succeeded int
	Failed    int
}

// Sender drains pending rows and attempts delivery. The real
// implementation is the chat transport adapter (out of core scope); this
// package only defines the contract plus a logging stand-in.
type Sender interface {
	Drain(ctx context.Context) (DrainSummary, error)
}

// LoggingSender claims pending rows and immediately marks them sent,
// logging each one instead of performing real delivery. It exists so the
// ops CLI's `queue drain` command and tests have a working black-box
// sender without wiring a real chat transport.
type LoggingSender struct {
	DB             *sql.DB
	MaxRetries     int
	ClaimBatchSize int
}

// Drain implements Sender.
func (s LoggingSender) Drain(ctx context.Context) (DrainSummary, error) {
	batch := s.ClaimBatchSize
	if batch <= 0 {
		batch = 100
	}

	rows, err := store.ClaimNextPending(ctx, s.DB, batch)
	if err != nil {
		return DrainSummary{}, fmt.Errorf("claim pending messages: %w", err)
	}

	summary := DrainSummary{Processed: len(rows)}
	for _, row := range rows {
		slog.Default().Info("delivering queued message",
			"message_id", row.ID, "user_id", row.UserID, "type", row.MessageType,
			"destination", row.Destination, "address", row.DestinationAddress)

		if err := store.MarkSent(ctx, s.DB, row.ID); err != nil {
			slog.Default().Error("failed to mark message sent", "message_id", row.ID, "error", err)
			if markErr := store.MarkFailed(ctx, s.DB, row.ID, s.MaxRetries); markErr != nil {
				slog.Default().Error("failed to mark message failed", "message_id", row.ID, "error", markErr)
			}
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}

	return summary, nil
}
