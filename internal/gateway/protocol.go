package gateway

import "github.com/google/uuid"

// Client commands, one per presence/chat operation.
const (
	CommandJoinChannel     = "join_channel"
	CommandSendMessage     = "send_message"
	CommandStartStudying   = "start_studying"
	CommandStopStudying    = "stop_studying"
	CommandStartBreak      = "start_break"
	CommandStopBreak       = "stop_break"
	CommandGetPresenceList = "get_presence_list"
)

// CommandFrame is one inbound client frame. Fields beyond Type are
// command-specific; absent fields stay nil/zero.
type CommandFrame struct {
	Type            string     `json:"type"`
	ChannelID       *uuid.UUID `json:"channel_id,omitempty"`
	TopicID         *uuid.UUID `json:"topic_id,omitempty"`
	Content         string     `json:"content,omitempty"`
	WorkMinutes     *int       `json:"work_minutes,omitempty"`
	BreakMinutes    *int       `json:"break_minutes,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
}

// EventFrame is one outbound frame, pushed to channel subscribers or to the
// caller alone.
type EventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// EventError is the caller-only failure reply. Command errors are never
// broadcast to other subscribers.
const EventError = "Error"

// Error codes carried in ErrorPayload.Code.
const (
	ErrorCodeNotFound        = "not_found"
	ErrorCodeInvalidState    = "invalid_state"
	ErrorCodeInvalidArgument = "invalid_argument"
	ErrorCodeSessionNotSaved = "session_not_saved"
	ErrorCodeInternal        = "internal"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
