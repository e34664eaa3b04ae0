// Package activity implements the per-message entry point (C5): it
// initializes new users, records inbound activity unconditionally, and
// triggers auto-reactivation out of dormant or goodbye_sent.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/engine"
	"github.com/finpal/reengage/internal/models"
	"github.com/finpal/reengage/internal/store"
)

// Context carries the per-message facts the tracker needs to classify the
// inbound message and pick a destination.
type Context struct {
	IsGroup           bool
	GroupAddress      string
	MessageText       string
	IsGoodbyeResponse bool
}

// Result is the per-message outcome reported back to the ingestion
// adapter.
type Result struct {
	IsFirstMessage       bool
	UserID               string
	PreferredDestination models.Destination
	EngagementState      models.State
	Reactivated          bool
	PreviousState        models.State
}

// Tracker bundles the store handle, clock, and transition engine the
// activity path calls into.
type Tracker struct {
	DB     *sql.DB
	Clock  clock.Clock
	Engine *engine.Engine
}

// CheckAndRecordActivity runs on every inbound message and must stay well
// under 50ms excluding network I/O to the store.
func (t *Tracker) CheckAndRecordActivity(ctx context.Context, userID string, msgCtx Context) (Result, error) {
	destination := models.DestinationIndividual
	if msgCtx.IsGroup {
		destination = models.DestinationGroup
	}

	row, err := store.ReadRow(ctx, t.DB, userID)
	if errors.Is(err, store.ErrNotFound) {
		created, createErr := store.CreateRow(ctx, t.DB, t.Clock, userID)
		if createErr != nil {
			return Result{}, createErr
		}
		return Result{
			IsFirstMessage:       true,
			UserID:               userID,
			PreferredDestination: destination,
			EngagementState:      created.State,
		}, nil
	}
	if err != nil {
		// Degrade to "behave as if no row exists" only for unambiguous
		// not-found errors; any other store error is logged and surfaced.
		slog.Default().Error("failed to read engagement row during activity check", "user_id", userID, "error", err)
		return Result{}, err
	}

	previousState := row.State

	// Unconditional: activity writes must never lose to a state
	// transition's conditional update.
	if updateErr := store.UpdateActivity(ctx, t.DB, t.Clock, userID); updateErr != nil {
		slog.Default().Error("failed to record activity", "user_id", userID, "error", updateErr)
	}

	result := Result{
		UserID:               userID,
		PreferredDestination: destination,
		EngagementState:      previousState,
		PreviousState:        previousState,
	}

	switch {
	case previousState == models.StateDormant:
		daysInactive := int(t.Clock.Now().Sub(row.LastActivityAt).Hours() / 24)
		tr := t.Engine.Transition(ctx, userID, models.TriggerUserMessage, map[string]any{
			"unprompted_return":   daysInactive >= int(t.Engine.Config.UnpromptedReturnThreshold.Hours()/24),
			"days_inactive":       daysInactive,
			"reactivation_source": "user_message",
		})
		if tr.Success {
			result.Reactivated = true
			result.EngagementState = tr.NewState
		}

	case previousState == models.StateGoodbyeSent && !msgCtx.IsGoodbyeResponse:
		tr := t.Engine.Transition(ctx, userID, models.TriggerUserMessage, map[string]any{
			"reactivation_source": "non_response_message",
		})
		if tr.Success {
			result.Reactivated = true
			result.EngagementState = tr.NewState
		}

	case previousState == models.StateGoodbyeSent && msgCtx.IsGoodbyeResponse:
		// The caller dispatches to a goodbye-response handler (out of
		// core) that classifies msgCtx.MessageText into
		// goodbye_response_{1,2,3} and calls Transition directly.
	}

	return result, nil
}
