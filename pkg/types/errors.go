package types

import "errors"

var (
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrContentTooLarge = errors.New("message content exceeds 4KB limit")
	ErrInvalidDuration = errors.New("duration must be between 1 and 480 minutes")
)
