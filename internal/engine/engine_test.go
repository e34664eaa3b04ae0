package engine

import (
	"context"
	"testing"
	"time"

	"github.com/finpal/reengage/internal/analytics"
	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/models"
	"github.com/finpal/reengage/internal/optout"
	"github.com/finpal/reengage/internal/store"
	"github.com/stretchr/testify/require"
)

func setupEngine(t *testing.T, now time.Time) (*Engine, *clock.Fixed) {
	t.Helper()
	tempDir := t.TempDir()
	db, err := store.InitDBWithPath(tempDir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := clock.NewFixed(now)
	e := &Engine{
		DB:        db,
		Clock:     c,
		OptOut:    optout.StaticSource{Profile: models.Profile{PreferredDestination: models.DestinationIndividual, PreferredLanguage: "en"}},
		Analytics: analytics.NewLoggingSink(nil),
		Config: app.EngagementConfig{
			InactivityThreshold:       14 * 24 * time.Hour,
			GoodbyeTimeout:            48 * time.Hour,
			RemindLater:               14 * 24 * time.Hour,
			UnpromptedReturnThreshold: 3 * 24 * time.Hour,
			MaxMessageRetries:         3,
		},
	}
	return e, c
}

func TestTransition_InitializesNewUserOnFirstMessage(t *testing.T) {
	e, _ := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	result := e.Transition(context.Background(), "u1", models.TriggerUserMessage, nil)
	require.True(t, result.Success)
	require.Equal(t, models.StateActive, result.NewState)
	require.Contains(t, result.SideEffects, models.SideEffectInitializedNewUser)
}

func TestTransition_MissingRowWithNonInitializingTriggerFails(t *testing.T) {
	e, _ := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	result := e.Transition(context.Background(), "ghost", models.TriggerInactivity14d, nil)
	require.False(t, result.Success)
	require.Error(t, result.Error)
}

func TestTransition_InactivityEntersGoodbyeSentAndQueuesMessage(t *testing.T) {
	e, c := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := store.CreateRow(ctx, e.DB, c, "u1")
	require.NoError(t, err)

	c.Advance(15 * 24 * time.Hour)
	result := e.Transition(ctx, "u1", models.TriggerInactivity14d, nil)
	require.True(t, result.Success)
	require.Equal(t, models.StateGoodbyeSent, result.NewState)
	require.Contains(t, result.SideEffects, models.SideEffectGoodbyeTimerStarted)

	rows, err := store.ClaimNextPending(ctx, e.DB, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.MessageTypeGoodbye, rows[0].MessageType)
}

func TestTransition_GoodbyeTimeoutEnqueuesNothing(t *testing.T) {
	e, c := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := store.CreateRow(ctx, e.DB, c, "u1")
	require.NoError(t, err)
	c.Advance(15 * 24 * time.Hour)
	require.True(t, e.Transition(ctx, "u1", models.TriggerInactivity14d, nil).Success)

	// Drain the goodbye message queued above so it doesn't contaminate the
	// timeout-enqueues-nothing assertion below.
	rows, err := store.ClaimNextPending(ctx, e.DB, 10)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, store.MarkSent(ctx, e.DB, r.ID))
	}

	c.Advance(49 * time.Hour)
	result := e.Transition(ctx, "u1", models.TriggerGoodbyeTimeout, nil)
	require.True(t, result.Success)
	require.Equal(t, models.StateDormant, result.NewState)
	require.Contains(t, result.SideEffects, models.SideEffectNoMessageSentByDesign)

	pending, err := store.ClaimNextPending(ctx, e.DB, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestTransition_InvalidCombinationRejected(t *testing.T) {
	e, c := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := store.CreateRow(ctx, e.DB, c, "u1")
	require.NoError(t, err)

	result := e.Transition(ctx, "u1", models.TriggerReminderDue, nil)
	require.False(t, result.Success)
	require.Error(t, result.Error)
}

func TestTransition_BusyResponseSchedulesReminder(t *testing.T) {
	e, c := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := store.CreateRow(ctx, e.DB, c, "u1")
	require.NoError(t, err)
	c.Advance(15 * 24 * time.Hour)
	require.True(t, e.Transition(ctx, "u1", models.TriggerInactivity14d, nil).Success)

	result := e.Transition(ctx, "u1", models.TriggerGoodbyeResponse2, nil)
	require.True(t, result.Success)
	require.Equal(t, models.StateRemindLater, result.NewState)

	row, err := store.ReadRow(ctx, e.DB, "u1")
	require.NoError(t, err)
	require.NotNil(t, row.RemindAt)
	require.WithinDuration(t, c.Now().Add(14*24*time.Hour), *row.RemindAt, time.Second)
}

func TestTransition_UnpromptedReturnFromDormant(t *testing.T) {
	e, c := setupEngine(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := store.CreateRow(ctx, e.DB, c, "u1")
	require.NoError(t, err)
	c.Advance(15 * 24 * time.Hour)
	require.True(t, e.Transition(ctx, "u1", models.TriggerInactivity14d, nil).Success)
	c.Advance(49 * time.Hour)
	require.True(t, e.Transition(ctx, "u1", models.TriggerGoodbyeTimeout, nil).Success)

	c.Advance(4 * 24 * time.Hour)
	result := e.Transition(ctx, "u1", models.TriggerUserMessage, map[string]any{
		"reactivation_source": "non_response_message",
	})
	require.True(t, result.Success)
	require.Equal(t, models.StateActive, result.NewState)

	history, err := store.TransitionHistory(ctx, e.DB, "u1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Contains(t, string(history[0].Metadata), `"unprompted_return":true`)
}
