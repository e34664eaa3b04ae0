package store

import (
	"context"
	"testing"
	"time"

	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/models"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_SameDayDuplicateCollapses(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	c := clock.NewFixed(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	queued, err := Enqueue(ctx, db, c, "u1", models.MessageTypeGoodbye, "goodbye.default",
		map[string]string{"locale": "en"}, models.DestinationIndividual, "u1@chat")
	require.NoError(t, err)
	require.True(t, queued)

	c.Advance(2 * time.Hour)
	queuedAgain, err := Enqueue(ctx, db, c, "u1", models.MessageTypeGoodbye, "goodbye.default",
		map[string]string{"locale": "en"}, models.DestinationIndividual, "u1@chat")
	require.NoError(t, err)
	require.False(t, queuedAgain)

	rows, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestEnqueue_NextDayAllowsNewRow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	c := clock.NewFixed(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))

	queued, err := Enqueue(ctx, db, c, "u1", models.MessageTypeGoodbye, "goodbye.default", nil, models.DestinationIndividual, "u1@chat")
	require.NoError(t, err)
	require.True(t, queued)

	c.Advance(24 * time.Hour)
	queued, err = Enqueue(ctx, db, c, "u1", models.MessageTypeGoodbye, "goodbye.default", nil, models.DestinationIndividual, "u1@chat")
	require.NoError(t, err)
	require.True(t, queued)

	rows, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestMarkSent_TransitionsStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	c := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := Enqueue(ctx, db, c, "u1", models.MessageTypeGoodbye, "goodbye.default", nil, models.DestinationIndividual, "u1@chat")
	require.NoError(t, err)

	rows, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, MarkSent(ctx, db, rows[0].ID))

	pending, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestMarkFailed_RetriesThenDeadLetters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	c := clock.NewFixed(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := Enqueue(ctx, db, c, "u1", models.MessageTypeGoodbye, "goodbye.default", nil, models.DestinationIndividual, "u1@chat")
	require.NoError(t, err)

	rows, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	id := rows[0].ID

	require.NoError(t, MarkFailed(ctx, db, id, 3))
	require.NoError(t, MarkFailed(ctx, db, id, 3))

	pendingStill, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, pendingStill, 1)

	require.NoError(t, MarkFailed(ctx, db, id, 3))

	pendingAfterThird, err := ClaimNextPending(ctx, db, 10)
	require.NoError(t, err)
	require.Empty(t, pendingAfterThird)
}
