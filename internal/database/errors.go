package database

import "errors"

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("database write operation timed out")
)

// Message history paging bounds, mirrored by the gateway's replay on join.
const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
)
