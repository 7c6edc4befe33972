package room

import "errors"

var (
	// ErrRoomNotFound means the room code resolves to nothing.
	ErrRoomNotFound = errors.New("room not found")

	// ErrItemNotFound means a command addressed a queue item that does not
	// exist or is already deleted.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrQueueEmpty means the command needs a current track and the room has
	// none.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrFingerprintMismatch means the command was built against a stale view
	// of the queue. The caller should resynchronize and retry.
	ErrFingerprintMismatch = errors.New("queue fingerprint mismatch")

	// ErrStaleTimestamp means the command's sent_at is too far from server
	// time, so its client clock estimate cannot be trusted.
	ErrStaleTimestamp = errors.New("command timestamp outside accepted window")

	// ErrCurrentTrack means the command tried to remove the playing track.
	ErrCurrentTrack = errors.New("cannot remove the current track")

	// ErrIndexOutOfRange means a positional argument fell outside the queue.
	ErrIndexOutOfRange = errors.New("index out of range")
)
