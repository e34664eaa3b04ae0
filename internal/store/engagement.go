package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/models"
)

const timeLayout = time.RFC3339Nano

// ReadRow loads the engagement row for userID. Returns ErrNotFound if no
// row exists yet.
func ReadRow(ctx context.Context, q Querier, userID string) (*models.EngagementRow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT user_id, state, last_activity_at, goodbye_sent_at, goodbye_expires_at,
		       remind_at, created_at, updated_at
		FROM engagement_state WHERE user_id = ?
	`, userID)
	r, err := scanEngagementRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read engagement row: %w", err)
	}
	return r, nil
}

// CreateRow inserts a fresh row in StateActive with last_activity_at = now.
// A concurrent insert of the same user_id is treated as success: the caller
// lost a harmless race to initialize the same user, not an error.
func CreateRow(ctx context.Context, db *sql.DB, c clock.Clock, userID string) (*models.EngagementRow, error) {
	now := c.Now()
	nowStr := now.Format(timeLayout)

	err := Transact(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO engagement_state (user_id, state, last_activity_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, models.StateActive, nowStr, nowStr, nowStr)
		return err
	})
	if err != nil && !isUniqueConstraintViolation(err) {
		return nil, fmt.Errorf("create engagement row: %w", err)
	}

	return ReadRow(ctx, db, userID)
}

// ConditionalUpdate applies patch only if the row's current updated_at still
// equals lockToken. Returns ErrVersionConflict (via VersionConflictError) if
// another writer has already moved the row forward.
func ConditionalUpdate(ctx context.Context, db *sql.DB, c clock.Clock, userID string, lockToken time.Time, patch EngagementPatch) (*models.EngagementRow, error) {
	now := c.Now()
	nowStr := now.Format(timeLayout)

	err := Transact(ctx, db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE engagement_state
			SET state = ?, last_activity_at = ?, goodbye_sent_at = ?, goodbye_expires_at = ?,
			    remind_at = ?, updated_at = ?
			WHERE user_id = ? AND updated_at = ?
		`,
			patch.State,
			patch.LastActivityAt.Format(timeLayout),
			nullableTimeString(patch.GoodbyeSentAt),
			nullableTimeString(patch.GoodbyeExpiresAt),
			nullableTimeString(patch.RemindAt),
			nowStr,
			userID,
			lockToken.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("update engagement row: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if affected == 0 {
			return &VersionConflictError{UserID: userID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ReadRow(ctx, db, userID)
}

// EngagementPatch is the partial row ConditionalUpdate applies. All fields
// are set unconditionally (to nil where the target state clears them); the
// caller computes the full patch, never a sparse diff.
type EngagementPatch struct {
	State            models.State
	LastActivityAt   time.Time
	GoodbyeSentAt    *time.Time
	GoodbyeExpiresAt *time.Time
	RemindAt         *time.Time
}

// UpdateActivity bumps last_activity_at (and updated_at) to now, bypassing
// the optimistic-lock token: activity writes must never lose to a state
// transition's conditional update, so this is not a compare-and-set on the
// token. The only guard is monotonicity: a stored last_activity_at that is
// already at or after now is left unchanged.
func UpdateActivity(ctx context.Context, db *sql.DB, c clock.Clock, userID string) error {
	now := c.Now().Format(timeLayout)
	return Transact(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE engagement_state SET last_activity_at = ?, updated_at = ?
			WHERE user_id = ? AND last_activity_at < ?
		`, now, now, userID, now)
		return err
	})
}

// AppendTransitionLog inserts an immutable transition record. Failure here
// is logged by the caller and never fails the transition that already
// committed.
func AppendTransitionLog(ctx context.Context, db *sql.DB, c clock.Clock, userID string, from, to models.State, trigger models.Trigger, meta models.TransitionMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal transition metadata: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO transition_log (id, user_id, from_state, to_state, trigger, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, newID("tl"), userID, from, to, trigger, string(metaJSON), c.Now().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append transition log: %w", err)
	}
	return nil
}

// TransitionHistory returns the most recent limit transition log rows for
// userID, newest first.
func TransitionHistory(ctx context.Context, q Querier, userID string, limit int) ([]models.TransitionLogRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, from_state, to_state, trigger, metadata, created_at
		FROM transition_log WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transition history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.TransitionLogRow
	for rows.Next() {
		var r models.TransitionLogRow
		var createdAt, metaStr string
		if err := rows.Scan(&r.ID, &r.UserID, &r.FromState, &r.ToState, &r.Trigger, &metaStr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transition log row: %w", err)
		}
		r.Metadata = json.RawMessage(metaStr)
		r.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse transition log created_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition log rows: %w", err)
	}
	return out, nil
}

// InactiveCohort returns user ids in StateActive whose last_activity_at
// precedes the cutoff (now - threshold), paged by user_id for bounded
// batch sizes over large tables.
func InactiveCohort(ctx context.Context, q Querier, cutoff time.Time, afterUserID string, limit int) ([]string, error) {
	return cohortQuery(ctx, q, `
		SELECT user_id FROM engagement_state
		WHERE state = ? AND last_activity_at < ? AND user_id > ?
		ORDER BY user_id LIMIT ?
	`, models.StateActive, cutoff.Format(timeLayout), afterUserID, limit)
}

// ExpiredGoodbyeCohort returns user ids in StateGoodbyeSent whose
// goodbye_expires_at has passed as of now.
func ExpiredGoodbyeCohort(ctx context.Context, q Querier, now time.Time, afterUserID string, limit int) ([]string, error) {
	return cohortQuery(ctx, q, `
		SELECT user_id FROM engagement_state
		WHERE state = ? AND goodbye_expires_at < ? AND user_id > ?
		ORDER BY user_id LIMIT ?
	`, models.StateGoodbyeSent, now.Format(timeLayout), afterUserID, limit)
}

// DueReminderCohort returns user ids in StateRemindLater whose remind_at
// has passed as of now.
func DueReminderCohort(ctx context.Context, q Querier, now time.Time, afterUserID string, limit int) ([]string, error) {
	return cohortQuery(ctx, q, `
		SELECT user_id FROM engagement_state
		WHERE state = ? AND remind_at < ? AND user_id > ?
		ORDER BY user_id LIMIT ?
	`, models.StateRemindLater, now.Format(timeLayout), afterUserID, limit)
}

func cohortQuery(ctx context.Context, q Querier, query string, state models.State, cutoff, afterUserID string, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, state, cutoff, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("query cohort: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cohort user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cohort rows: %w", err)
	}
	return ids, nil
}

// TransitionStats is the aggregate statistics query result over a date
// range: counts by trigger, response-type distribution, unprompted-return
// count, and mean days_inactive.
type TransitionStats struct {
	TotalTransitions    int            `json:"total_transitions"`
	CountByTrigger      map[string]int `json:"count_by_trigger"`
	CountByResponseType map[string]int `json:"count_by_response_type"`
	UnpromptedReturns   int            `json:"unprompted_returns"`
	MeanDaysInactive    float64        `json:"mean_days_inactive"`
}

// AggregateStats scans transition_log rows created in [from, to) and
// computes per-trigger counts and response-rate statistics. Metadata is
// stored as opaque JSON text, so this walks it in Go rather than pushing
// the aggregation into SQL.
func AggregateStats(ctx context.Context, q Querier, from, to time.Time) (TransitionStats, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT trigger, metadata FROM transition_log
		WHERE created_at >= ? AND created_at < ?
	`, from.Format(timeLayout), to.Format(timeLayout))
	if err != nil {
		return TransitionStats{}, fmt.Errorf("query transition log for stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := TransitionStats{
		CountByTrigger:      map[string]int{},
		CountByResponseType: map[string]int{},
	}
	var daysInactiveSum int
	for rows.Next() {
		var trigger, metaStr string
		if err := rows.Scan(&trigger, &metaStr); err != nil {
			return TransitionStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		var meta models.TransitionMetadata
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			return TransitionStats{}, fmt.Errorf("unmarshal transition metadata: %w", err)
		}

		stats.TotalTransitions++
		stats.CountByTrigger[trigger]++
		if meta.ResponseType != "" {
			stats.CountByResponseType[string(meta.ResponseType)]++
		}
		if meta.UnpromptedReturn {
			stats.UnpromptedReturns++
		}
		daysInactiveSum += meta.DaysInactive
	}
	if err := rows.Err(); err != nil {
		return TransitionStats{}, fmt.Errorf("iterate stats rows: %w", err)
	}

	if stats.TotalTransitions > 0 {
		stats.MeanDaysInactive = float64(daysInactiveSum) / float64(stats.TotalTransitions)
	}
	return stats, nil
}

func scanEngagementRow(row *sql.Row) (*models.EngagementRow, error) {
	var r models.EngagementRow
	var lastActivity, createdAt, updatedAt string
	var goodbyeSent, goodbyeExpires, remindAt sql.NullString

	if err := row.Scan(&r.UserID, &r.State, &lastActivity, &goodbyeSent, &goodbyeExpires, &remindAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.LastActivityAt, err = time.Parse(timeLayout, lastActivity); err != nil {
		return nil, fmt.Errorf("parse last_activity_at: %w", err)
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if r.GoodbyeSentAt, err = parseNullableTime(goodbyeSent); err != nil {
		return nil, fmt.Errorf("parse goodbye_sent_at: %w", err)
	}
	if r.GoodbyeExpiresAt, err = parseNullableTime(goodbyeExpires); err != nil {
		return nil, fmt.Errorf("parse goodbye_expires_at: %w", err)
	}
	if r.RemindAt, err = parseNullableTime(remindAt); err != nil {
		return nil, fmt.Errorf("parse remind_at: %w", err)
	}
	return &r, nil
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTimeString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

func isUniqueConstraintViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed"))
}
