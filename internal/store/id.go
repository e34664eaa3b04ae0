package store

import "github.com/google/uuid"

// newID generates a fresh row identifier prefixed by the entity kind.
// Transition log rows and message queue rows are never typed at a CLI
// prompt the way a task ID is, so a plain UUID is preferred here over the
// timestamp+random-hex scheme used for task IDs in systems meant for humans
// to reference directly.
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
