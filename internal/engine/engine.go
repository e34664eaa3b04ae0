// Package engine implements the transition engine (C3): validate a
// (state, trigger) pair against the state graph, apply the implied
// timestamp patch under optimistic concurrency, log the transition, fire
// analytics, and execute state-entry side effects.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/finpal/reengage/internal/analytics"
	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/fsm"
	"github.com/finpal/reengage/internal/models"
	"github.com/finpal/reengage/internal/optout"
	"github.com/finpal/reengage/internal/queue"
	"github.com/finpal/reengage/internal/store"
)

// Engine holds the collaborators the transition algorithm needs: the
// backing database, an injectable clock, the opt-out/profile source, and
// the analytics sink. It holds no in-process state of its own.
type Engine struct {
	DB        *sql.DB
	Clock     clock.Clock
	OptOut    optout.Source
	Analytics analytics.Sink
	Config    app.EngagementConfig
}

// Result is the outcome of one Transition call. It is a struct, not an
// error, so callers can branch on Success without errors.As gymnastics.
type Result struct {
	Success       bool
	PreviousState models.State
	NewState      models.State
	Error         error
	SideEffects   []models.SideEffectTag
}

// Transition validates the (state, trigger) pair against the state graph,
// applies the implied timestamp patch under optimistic concurrency, logs
// the transition, fires analytics, and runs any state-entry side effects.
func (e *Engine) Transition(ctx context.Context, userID string, trigger models.Trigger, extraMetadata map[string]any) Result {
	row, err := store.ReadRow(ctx, e.DB, userID)
	if errors.Is(err, store.ErrNotFound) {
		if trigger != models.TriggerUserMessage {
			return Result{Success: false, Error: errors.New("no engagement state record")}
		}
		if _, createErr := store.CreateRow(ctx, e.DB, e.Clock, userID); createErr != nil {
			return Result{Success: false, Error: createErr}
		}
		return Result{
			Success:       true,
			PreviousState: models.StateActive,
			NewState:      models.StateActive,
			SideEffects:   []models.SideEffectTag{models.SideEffectInitializedNewUser},
		}
	}
	if err != nil {
		return Result{Success: false, Error: err}
	}

	edge, ok := fsm.Lookup(row.State, trigger)
	if !ok {
		invalidErr := &fsm.InvalidTransitionError{From: row.State, Trigger: trigger}
		slog.Default().Warn("invalid transition", "user_id", userID, "from", row.State, "trigger", trigger)
		return Result{Success: false, Error: invalidErr}
	}

	now := e.Clock.Now()
	patch := e.buildPatch(edge.To, now, row)
	meta := e.buildMetadata(row, edge, trigger, now, extraMetadata)

	updated, err := store.ConditionalUpdate(ctx, e.DB, e.Clock, userID, row.LockToken(), patch)
	if err != nil {
		if store.IsVersionConflict(err) {
			return Result{Success: false, Error: errors.New("modified by another process")}
		}
		return Result{Success: false, Error: err}
	}

	if logErr := store.AppendTransitionLog(ctx, e.DB, e.Clock, userID, row.State, edge.To, trigger, meta); logErr != nil {
		slog.Default().Error("failed to append transition log", "user_id", userID, "error", logErr)
	}

	profile, profileErr := e.OptOut.GetProfile(ctx, userID)
	if profileErr != nil {
		slog.Default().Error("failed to read profile for analytics", "user_id", userID, "error", profileErr)
	}

	e.emitAnalytics(userID, row.State, edge.To, trigger, meta, profile.PreferredDestination)

	e.runSideEffects(ctx, userID, edge, trigger, updated, profile)

	return Result{
		Success:       true,
		PreviousState: row.State,
		NewState:      edge.To,
		SideEffects:   edge.SideEffects,
	}
}

func (e *Engine) buildPatch(to models.State, now time.Time, row *models.EngagementRow) store.EngagementPatch {
	patch := store.EngagementPatch{
		State:            to,
		LastActivityAt:   row.LastActivityAt,
		GoodbyeSentAt:    row.GoodbyeSentAt,
		GoodbyeExpiresAt: row.GoodbyeExpiresAt,
		RemindAt:         row.RemindAt,
	}

	switch to {
	case models.StateGoodbyeSent:
		expires := now.Add(e.Config.GoodbyeTimeout)
		patch.GoodbyeSentAt = &now
		patch.GoodbyeExpiresAt = &expires
	case models.StateRemindLater:
		remindAt := now.Add(e.Config.RemindLater)
		patch.RemindAt = &remindAt
	case models.StateActive:
		patch.GoodbyeSentAt = nil
		patch.GoodbyeExpiresAt = nil
		patch.RemindAt = nil
		patch.LastActivityAt = now
	case models.StateDormant:
		patch.GoodbyeSentAt = nil
		patch.GoodbyeExpiresAt = nil
		patch.RemindAt = nil
	case models.StateHelpFlow:
		// no timestamp change
	}
	return patch
}

func (e *Engine) buildMetadata(row *models.EngagementRow, edge fsm.Edge, trigger models.Trigger, now time.Time, extra map[string]any) models.TransitionMetadata {
	daysInactive := daysBetween(row.LastActivityAt, now)

	meta := models.TransitionMetadata{
		DaysInactive: daysInactive,
	}

	if responseType, ok := models.ResponseTypeForTrigger(trigger); ok {
		meta.ResponseType = responseType
		hoursWaited := 0
		if row.GoodbyeSentAt != nil {
			hoursWaited = int(now.Sub(*row.GoodbyeSentAt).Hours())
			if hoursWaited < 0 {
				hoursWaited = 0
			}
		}
		daysSinceGoodbye := hoursWaited / 24
		meta.HoursWaited = &hoursWaited
		meta.DaysSinceGoodbye = &daysSinceGoodbye
	}

	if trigger == models.TriggerUserMessage && row.State == models.StateDormant && daysInactive >= int(e.Config.UnpromptedReturnThreshold.Hours()/24) {
		meta.UnpromptedReturn = true
	}

	if trigger.IsSchedulerTrigger() {
		meta.TriggerSource = models.TriggerSourceScheduler
	} else {
		meta.TriggerSource = models.TriggerSourceUserMessage
	}

	if extra != nil {
		if v, ok := extra["unprompted_return"].(bool); ok {
			meta.UnpromptedReturn = v
		}
		if v, ok := extra["reactivation_source"].(string); ok {
			meta.ReactivationSource = v
		}
	}

	return meta
}

func daysBetween(last time.Time, now time.Time) int {
	if last.IsZero() || now.Before(last) {
		return 0
	}
	return int(math.Floor(now.Sub(last).Hours() / 24))
}

func (e *Engine) emitAnalytics(userID string, from, to models.State, trigger models.Trigger, meta models.TransitionMetadata, preferredDestination models.Destination) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("analytics emission panicked", "user_id", userID, "recovered", r)
		}
	}()

	e.Analytics.Emit(models.AnalyticsEvent{
		Kind: models.AnalyticsStateChanged,
		Fields: map[string]any{
			"from": from, "to": to, "trigger": trigger,
			"days_inactive": meta.DaysInactive, "response_type": meta.ResponseType,
			"unprompted_return": meta.UnpromptedReturn, "preferred_destination": preferredDestination,
		},
	})

	if meta.ResponseType != "" {
		e.Analytics.Emit(models.AnalyticsEvent{
			Kind: models.AnalyticsGoodbyeResponse,
			Fields: map[string]any{
				"response_type": meta.ResponseType, "days_since_goodbye": meta.DaysSinceGoodbye,
				"hours_waited": meta.HoursWaited, "from": from, "to": to,
			},
		})
	}

	if meta.UnpromptedReturn {
		e.Analytics.Emit(models.AnalyticsEvent{
			Kind:   models.AnalyticsUnpromptedReturn,
			Fields: map[string]any{"days_inactive": meta.DaysInactive, "previous_state": from, "preferred_destination": preferredDestination},
		})
	}
}

func (e *Engine) runSideEffects(ctx context.Context, userID string, edge fsm.Edge, trigger models.Trigger, row *models.EngagementRow, profile models.Profile) {
	if trigger == models.TriggerGoodbyeTimeout {
		return
	}

	for _, tag := range edge.SideEffects {
		if tag != models.SideEffectGoodbyeTimerStarted {
			continue
		}

		destination := models.DestinationIndividual
		address := userID
		if profile.PreferredDestination == models.DestinationGroup && profile.GroupAddress != "" {
			destination = models.DestinationGroup
			address = profile.GroupAddress
		}

		queued, err := queue.EnqueueGoodbye(ctx, e.DB, e.Clock, userID, profile.PreferredLanguage, destination, address)
		if err != nil {
			slog.Default().Error("failed to enqueue goodbye message", "user_id", userID, "error", err)
			continue
		}
		if !queued {
			slog.Default().Debug("goodbye already queued today", "user_id", userID)
		}
	}
}
