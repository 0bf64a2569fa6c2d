package gateway

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrInvalidToken     = errors.New("missing or invalid token")
	ErrNotInChannel     = errors.New("join a channel first")
	ErrAlreadyInChannel = errors.New("connection already joined a channel")
	ErrUnknownCommand   = errors.New("unknown command type")
	ErrMissingField     = errors.New("missing required field")
)
