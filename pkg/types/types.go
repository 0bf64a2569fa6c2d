package types

import (
	"time"

	"github.com/google/uuid"
)

// Status is the live presence state of one user within one channel.
type Status string

const (
	StatusOffline  Status = "OFFLINE"
	StatusOnline   Status = "ONLINE"
	StatusStudying Status = "STUDYING"
	StatusOnBreak  Status = "ON_BREAK"
)

// Event names pushed to channel subscribers. Every presence event carries a
// full UserPresenceEntry snapshot so clients can blindly replace their cached
// copy of that user.
const (
	EventReceiveMessage      = "ReceiveMessage"
	EventReceivePresenceList = "ReceivePresenceList"
	EventUserJoinedChannel   = "UserJoinedChannel"
	EventUserLeftChannel     = "UserLeftChannel"
	EventUserStartedStudying = "UserStartedStudying"
	EventUserStoppedStudying = "UserStoppedStudying"
	EventUserStartedBreak    = "UserStartedBreak"
	EventUserStoppedBreak    = "UserStoppedBreak"
)

// UserProfile is the cached public profile of a user, fetched from the
// directory on first sight and immutable afterwards.
type UserProfile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	DateJoined  time.Time `json:"date_joined"`
}

// TopicInfo is the cached public title of a study topic.
type TopicInfo struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// UserPresenceEntry is the live status record for one user within one
// channel. Topic is set if and only if Status is STUDYING. StartedAt is the
// instant the current status began; with TimerDurationMinutes set the entry
// runs as a countdown expiring at StartedAt + TimerDurationMinutes.
type UserPresenceEntry struct {
	User                     UserProfile `json:"user"`
	Status                   Status      `json:"status"`
	Topic                    *TopicInfo  `json:"topic,omitempty"`
	StartedAt                time.Time   `json:"started_at"`
	TimerDurationMinutes     *int        `json:"timer_duration_minutes,omitempty"`
	NextBreakDurationMinutes *int        `json:"next_break_duration_minutes,omitempty"`
}

// TimerExpiresAt returns the countdown deadline, or false when the entry is
// running as an open-ended stopwatch.
func (e *UserPresenceEntry) TimerExpiresAt() (time.Time, bool) {
	if e.TimerDurationMinutes == nil {
		return time.Time{}, false
	}
	return e.StartedAt.Add(time.Duration(*e.TimerDurationMinutes) * time.Minute), true
}

// Clone returns a deep copy safe to hand to subscribers while the original
// keeps mutating under its owner's lock.
func (e *UserPresenceEntry) Clone() UserPresenceEntry {
	c := *e
	if e.Topic != nil {
		t := *e.Topic
		c.Topic = &t
	}
	if e.TimerDurationMinutes != nil {
		d := *e.TimerDurationMinutes
		c.TimerDurationMinutes = &d
	}
	if e.NextBreakDurationMinutes != nil {
		d := *e.NextBreakDurationMinutes
		c.NextBreakDurationMinutes = &d
	}
	return c
}

// PresenceDelta is one broadcastable state change produced by a presence
// operation or a background sweep.
type PresenceDelta struct {
	ChannelID uuid.UUID         `json:"channel_id"`
	Event     string            `json:"event"`
	Entry     UserPresenceEntry `json:"entry"`
}

// ChatMessageType distinguishes user chat from server announcements.
type ChatMessageType string

const (
	ChatMessageUser   ChatMessageType = "USER"
	ChatMessageSystem ChatMessageType = "SYSTEM"
)

// ChatMessage is one persisted chat message within a channel.
type ChatMessage struct {
	ID        uuid.UUID       `json:"id"`
	ChannelID uuid.UUID       `json:"channel_id"`
	User      UserProfile     `json:"user"`
	Content   string          `json:"content"`
	Type      ChatMessageType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// StudySession is one completed study interval, durably recorded when a
// STUDYING status ends.
type StudySession struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	TopicID   uuid.UUID     `json:"topic_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
