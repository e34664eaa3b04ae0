// Package optout defines the read-only profile contract the core consumes
// to honor the reengagement_opt_out flag and choose message destination
// and locale. The core never writes these fields.
package optout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/finpal/reengage/internal/models"
)

// Source fetches a user's opt-out and delivery preferences. The real
// implementation lives in the surrounding chat assistant (out of this
// module's scope); this package only defines the contract and a
// SQLite-backed reference implementation for the ops CLI and tests.
type Source interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// StaticSource returns the same profile for every user, for tests and for
// single-tenant ops CLI invocations that have no real profile store wired.
type StaticSource struct {
	Profile models.Profile
}

// GetProfile implements Source.
func (s StaticSource) GetProfile(_ context.Context, userID string) (models.Profile, error) {
	p := s.Profile
	p.UserID = userID
	return p, nil
}

// SQLiteSource reads profiles from a `profiles` table owned by the
// surrounding chat assistant, not by this module's migrations — the core
// only ever reads it, never writes.
type SQLiteSource struct {
	DB *sql.DB
}

// GetProfile implements Source. A missing row is treated as "no opt-out,
// individual destination, default locale" — the safest default for a
// table this module does not own.
func (s SQLiteSource) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT reengagement_opt_out, onboarding_tips_enabled, preferred_language,
		       preferred_destination, group_address
		FROM profiles WHERE user_id = ?
	`, userID)

	var p models.Profile
	p.UserID = userID
	var groupAddress sql.NullString

	err := row.Scan(&p.ReengagementOptOut, &p.OnboardingTipsEnabled, &p.PreferredLanguage,
		&p.PreferredDestination, &groupAddress)
	if err == sql.ErrNoRows {
		p.PreferredDestination = models.DestinationIndividual
		p.PreferredLanguage = "en"
		return p, nil
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if groupAddress.Valid {
		p.GroupAddress = groupAddress.String
	}
	return p, nil
}
