package room

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotAParticipant = errors.New("not a participant of this room")
	ErrValidation      = errors.New("validation failed")
	ErrAlreadyExists   = errors.New("room already exists")

	// ErrStaleWrite is only returned under the Optimistic policy, when another
	// client wrote the room between our read and our write.
	ErrStaleWrite = errors.New("room changed since it was read")
)
