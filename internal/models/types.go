package models

import (
	"encoding/json"
	"time"
)

// State is one of the five stable engagement conditions of a user.
type State string

// Engagement states. The set is closed; the edge table in package fsm is
// the only place transitions between these states are defined.
const (
	StateActive      State = "active"
	StateGoodbyeSent State = "goodbye_sent"
	StateHelpFlow    State = "help_flow"
	StateRemindLater State = "remind_later"
	StateDormant     State = "dormant"
)

// IsValid reports whether s is one of the five known states.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateGoodbyeSent, StateHelpFlow, StateRemindLater, StateDormant:
		return true
	}
	return false
}

// Trigger is a named event that may cause a state transition.
type Trigger string

// Triggers recognized by the state graph.
const (
	TriggerUserMessage      Trigger = "user_message"
	TriggerInactivity14d    Trigger = "inactivity_14d"
	TriggerGoodbyeResponse1 Trigger = "goodbye_response_1"
	TriggerGoodbyeResponse2 Trigger = "goodbye_response_2"
	TriggerGoodbyeResponse3 Trigger = "goodbye_response_3"
	TriggerGoodbyeTimeout   Trigger = "goodbye_timeout"
	TriggerReminderDue      Trigger = "reminder_due"
)

// IsSchedulerTrigger reports whether the trigger originates from the daily
// batch driver rather than an inbound user message.
func (t Trigger) IsSchedulerTrigger() bool {
	switch t {
	case TriggerInactivity14d, TriggerGoodbyeTimeout, TriggerReminderDue:
		return true
	}
	return false
}

// IsGoodbyeResponse reports whether the trigger is one of the three
// classified replies to a goodbye message.
func (t Trigger) IsGoodbyeResponse() bool {
	switch t {
	case TriggerGoodbyeResponse1, TriggerGoodbyeResponse2, TriggerGoodbyeResponse3:
		return true
	}
	return false
}

// ResponseType is the analytics-level classification of an exit from
// goodbye_sent.
type ResponseType string

// Response type constants.
const (
	ResponseConfused ResponseType = "confused"
	ResponseBusy     ResponseType = "busy"
	ResponseAllGood  ResponseType = "all_good"
	ResponseTimeout  ResponseType = "timeout"
)

// ResponseTypeForTrigger maps a goodbye-variant trigger to its analytics
// response type. Returns ("", false) for triggers that are not goodbye
// variants.
func ResponseTypeForTrigger(t Trigger) (ResponseType, bool) {
	switch t {
	case TriggerGoodbyeResponse1:
		return ResponseConfused, true
	case TriggerGoodbyeResponse2:
		return ResponseBusy, true
	case TriggerGoodbyeResponse3:
		return ResponseAllGood, true
	case TriggerGoodbyeTimeout:
		return ResponseTimeout, true
	}
	return "", false
}

// TriggerSource distinguishes a user-initiated trigger from one fired by the
// daily batch driver.
type TriggerSource string

// Trigger source constants.
const (
	TriggerSourceUserMessage TriggerSource = "user_message"
	TriggerSourceScheduler   TriggerSource = "scheduler"
)

// Destination is where a proactive message should be addressed.
type Destination string

// Destination constants.
const (
	DestinationIndividual Destination = "individual"
	DestinationGroup      Destination = "group"
)

// MessageType enumerates the message kinds the core (and its sibling
// drivers sharing the same queue) can enqueue.
type MessageType string

// Message type constants. Only MessageTypeGoodbye is emitted by the
// transition engine; the rest are enqueued by sibling drivers outside the
// core but share this queue's table and idempotency semantics.
const (
	MessageTypeGoodbye      MessageType = "goodbye"
	MessageTypeReminder     MessageType = "reminder"
	MessageTypeWeeklyReview MessageType = "weekly_review"
	MessageTypeWelcome      MessageType = "welcome"
	MessageTypeTierUnlock   MessageType = "tier_unlock"
	MessageTypeHelpRestart  MessageType = "help_restart"
)

// MessageStatus is the lifecycle state of a queued message row.
type MessageStatus string

// Message status constants.
const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// EngagementRow is one per user; created lazily on first contact.
type EngagementRow struct {
	UserID           string     `json:"user_id"`
	State            State      `json:"state"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	GoodbyeSentAt    *time.Time `json:"goodbye_sent_at,omitempty"`
	GoodbyeExpiresAt *time.Time `json:"goodbye_expires_at,omitempty"`
	RemindAt         *time.Time `json:"remind_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	// UpdatedAt doubles as the optimistic-lock token: ConditionalUpdate only
	// applies when the caller's previously-read UpdatedAt still matches.
	UpdatedAt time.Time `json:"updated_at"`
}

// LockToken returns the value a caller must present to ConditionalUpdate to
// prove it read this exact row version.
func (r *EngagementRow) LockToken() time.Time {
	return r.UpdatedAt
}

// TransitionLogRow is an append-only record of one successful transition.
type TransitionLogRow struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	FromState State           `json:"from_state"`
	ToState   State           `json:"to_state"`
	Trigger   Trigger         `json:"trigger"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransitionMetadata is the structured shape serialized into
// TransitionLogRow.Metadata. Fields are omitted from JSON when not
// applicable to the triggering edge.
type TransitionMetadata struct {
	DaysInactive       int           `json:"days_inactive"`
	ResponseType       ResponseType  `json:"response_type,omitempty"`
	HoursWaited        *int          `json:"hours_waited,omitempty"`
	DaysSinceGoodbye   *int          `json:"days_since_goodbye,omitempty"`
	UnpromptedReturn   bool          `json:"unprompted_return,omitempty"`
	TriggerSource      TriggerSource `json:"trigger_source"`
	ReactivationSource string        `json:"reactivation_source,omitempty"`
}

// Profile is the subset of the chat assistant's user profile the core
// consumes. The core never writes these fields.
type Profile struct {
	UserID                string      `json:"user_id"`
	ReengagementOptOut    bool        `json:"reengagement_opt_out"`
	OnboardingTipsEnabled bool        `json:"onboarding_tips_enabled"`
	PreferredLanguage     string      `json:"preferred_language"`
	PreferredDestination  Destination `json:"preferred_destination"`
	GroupAddress          string      `json:"group_address,omitempty"`
}

// MessageQueueRow is one row in the durable outbound message queue.
type MessageQueueRow struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	MessageType        MessageType       `json:"message_type"`
	MessageKey         string            `json:"message_key"`
	MessageParams      map[string]string `json:"message_params"`
	Destination        Destination       `json:"destination"`
	DestinationAddress string            `json:"destination_address"`
	IdempotencyKey     string            `json:"idempotency_key"`
	Status             MessageStatus     `json:"status"`
	Attempts           int               `json:"attempts"`
	CreatedAt          time.Time         `json:"created_at"`
	ScheduledAt        time.Time         `json:"scheduled_at"`
}

// SideEffectTag names a side effect the state graph associates with an edge,
// for the transition engine to execute after the commit point.
type SideEffectTag string

// Side effect tags.
const (
	SideEffectGoodbyeTimerStarted   SideEffectTag = "goodbye_timer_started"
	SideEffectReminderScheduled     SideEffectTag = "reminder_scheduled"
	SideEffectReactivatedUser       SideEffectTag = "reactivated_user"
	SideEffectNoMessageSentByDesign SideEffectTag = "no_message_sent_by_design"
	SideEffectInitializedNewUser    SideEffectTag = "initialized_new_user"
)

// AnalyticsEvent is a fire-and-forget metric emission from the transition
// engine. Kind distinguishes state-changed, goodbye-response, and
// unprompted-return shapes; Fields carries the event-specific payload.
type AnalyticsEvent struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields"`
}

// Analytics event kinds.
const (
	AnalyticsStateChanged     = "state_changed"
	AnalyticsGoodbyeResponse  = "goodbye_response"
	AnalyticsUnpromptedReturn = "unprompted_return"
)

// DriverError pairs a user with the error encountered processing them
// during a daily driver phase.
type DriverError struct {
	UserID string `json:"user_id"`
	Phase  string `json:"phase"`
	Error  string `json:"error"`
}

// DriverResult is the outcome of one runDailyJob invocation.
type DriverResult struct {
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	DurationMs int64         `json:"duration_ms"`
	Errors     []DriverError `json:"errors,omitempty"`
}
