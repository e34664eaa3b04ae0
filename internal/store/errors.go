package store

import (
	"errors"

	"github.com/finpal/reengage/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so the
// ops CLI's output package can enrich any store error without an import
// cycle back into models.
type RecoverableError = models.RecoverableError

// ErrNotFound is returned by ReadRow when no engagement row exists for the
// given user id.
var ErrNotFound = errors.New("engagement row not found")

// ErrVersionConflict is the sentinel wrapped by VersionConflictError, kept
// for callers that prefer errors.Is over errors.As.
var ErrVersionConflict = errors.New("version conflict: record was modified by another process")

// VersionConflictError is returned by ConditionalUpdate when the caller's
// lock token no longer matches the stored row.
type VersionConflictError struct {
	UserID string
}

func (e *VersionConflictError) Error() string {
	return "modified by another process"
}

// ErrorCode implements models.RecoverableError.
func (e *VersionConflictError) ErrorCode() string { return "VERSION_CONFLICT" }

// Context implements models.RecoverableError.
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{"user_id": e.UserID}
}

// SuggestedAction implements models.RecoverableError.
func (e *VersionConflictError) SuggestedAction() string {
	return "re-read the row and retry; it is safe to drop this update instead"
}

// Is lets errors.Is(err, ErrVersionConflict) match any VersionConflictError.
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
