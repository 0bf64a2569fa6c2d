package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"studyhub/pkg/types"
)

// UserDirectory resolves user ids and topic ids to their public records.
// The presence core calls it once per first sight and caches the result.
type UserDirectory interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*types.UserProfile, error)
	GetTopic(ctx context.Context, topicID uuid.UUID) (*types.TopicInfo, error)
}

// SessionWriter durably records a completed study interval. Implementations
// must be idempotent-safe from the caller's perspective: the presence core
// attempts the write exactly once per interval and surfaces failures without
// retrying or rolling back the in-memory transition.
type SessionWriter interface {
	RecordSession(ctx context.Context, session *types.StudySession) error
}

// ChatStore persists channel chat history.
type ChatStore interface {
	CreateMessage(ctx context.Context, message *types.ChatMessage) error
	// ListMessages returns up to limit messages for the channel with
	// timestamps at or before the cursor, newest first. A zero cursor means
	// "from the latest".
	ListMessages(ctx context.Context, channelID uuid.UUID, before time.Time, limit int) ([]*types.ChatMessage, error)
}

// Broadcaster pushes an event to every subscriber of a channel, or to a
// single connection where the protocol calls for a caller-only reply.
type Broadcaster interface {
	BroadcastToChannel(channelID uuid.UUID, event string, payload any)
}
