// Package fsm implements the engagement state graph (C1): a closed total
// function (state, trigger) -> state, each edge tagged with the side
// effects the transition engine must execute after committing it.
package fsm

import (
	"fmt"

	"github.com/finpal/reengage/internal/models"
)

// Edge is one entry in the closed transition table.
type Edge struct {
	From        models.State
	Trigger     models.Trigger
	To          models.State
	SideEffects []models.SideEffectTag
}

// edges enumerates the exact ten valid (state, trigger) -> state
// transitions. This slice is the single source of truth; graphTable is
// derived from it at init time.
var edges = []Edge{
	{
		From: models.StateActive, Trigger: models.TriggerInactivity14d, To: models.StateGoodbyeSent,
		SideEffects: []models.SideEffectTag{models.SideEffectGoodbyeTimerStarted},
	},
	{
		From: models.StateGoodbyeSent, Trigger: models.TriggerUserMessage, To: models.StateActive,
		SideEffects: []models.SideEffectTag{models.SideEffectReactivatedUser},
	},
	{
		From: models.StateGoodbyeSent, Trigger: models.TriggerGoodbyeResponse1, To: models.StateHelpFlow,
	},
	{
		From: models.StateGoodbyeSent, Trigger: models.TriggerGoodbyeResponse2, To: models.StateRemindLater,
		SideEffects: []models.SideEffectTag{models.SideEffectReminderScheduled},
	},
	{
		From: models.StateGoodbyeSent, Trigger: models.TriggerGoodbyeResponse3, To: models.StateDormant,
	},
	{
		From: models.StateGoodbyeSent, Trigger: models.TriggerGoodbyeTimeout, To: models.StateDormant,
		SideEffects: []models.SideEffectTag{models.SideEffectNoMessageSentByDesign},
	},
	{
		From: models.StateHelpFlow, Trigger: models.TriggerUserMessage, To: models.StateActive,
		SideEffects: []models.SideEffectTag{models.SideEffectReactivatedUser},
	},
	{
		From: models.StateRemindLater, Trigger: models.TriggerUserMessage, To: models.StateActive,
		SideEffects: []models.SideEffectTag{models.SideEffectReactivatedUser},
	},
	{
		From: models.StateRemindLater, Trigger: models.TriggerReminderDue, To: models.StateDormant,
	},
	{
		From: models.StateDormant, Trigger: models.TriggerUserMessage, To: models.StateActive,
		SideEffects: []models.SideEffectTag{models.SideEffectReactivatedUser},
	},
}

type key struct {
	from    models.State
	trigger models.Trigger
}

var graphTable = buildTable()

func buildTable() map[key]Edge {
	t := make(map[key]Edge, len(edges))
	for _, e := range edges {
		t[key{e.From, e.Trigger}] = e
	}
	return t
}

// Lookup returns the edge for (from, trigger), or false if the combination
// is not one of the ten valid transitions.
func Lookup(from models.State, trigger models.Trigger) (Edge, bool) {
	e, ok := graphTable[key{from, trigger}]
	return e, ok
}

// InvalidTransitionError is returned when (state, trigger) is not in the
// graph. It is descriptive, not retried, and never surfaced to the end user.
type InvalidTransitionError struct {
	From    models.State
	Trigger models.Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s + %s", e.From, e.Trigger)
}

// ErrorCode implements models.RecoverableError.
func (e *InvalidTransitionError) ErrorCode() string { return "INVALID_TRANSITION" }

// Context implements models.RecoverableError.
func (e *InvalidTransitionError) Context() map[string]string {
	return map[string]string{
		"from":    string(e.From),
		"trigger": string(e.Trigger),
	}
}

// SuggestedAction implements models.RecoverableError.
func (e *InvalidTransitionError) SuggestedAction() string {
	return "do not retry; the caller supplied a trigger that cannot fire from this state"
}

// Edges returns a copy of the closed edge table, for tests and introspection.
func Edges() []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}
