package storage

import "errors"

// Common storage errors
var (
	// ErrStorageClosed indicates that storage was used after Close
	ErrStorageClosed = errors.New("storage is closed")

	// ErrRoomLocked indicates that exclusive room access could not be acquired in time
	ErrRoomLocked = errors.New("room is locked by another request")

	// ErrEmptyRoom indicates that an empty room key was passed to the backend
	ErrEmptyRoom = errors.New("room key is empty")
)
