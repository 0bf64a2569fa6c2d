package interfaces

import "errors"

// Shared not-found sentinels so the presence core and the store agree on
// what "does not exist" means without importing each other.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrChannelNotFound = errors.New("channel not found")
)
