package storage

import "errors"

// Common client storage errors
var (
	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidRoom indicates an empty room key
	ErrInvalidRoom = errors.New("room cannot be empty")
)
