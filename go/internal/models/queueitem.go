package models

import "time"

// QueueItem is one slot in a room's shared queue. IDs are assigned by the
// authoritative store and never reused. Removal is a soft delete so the event
// stream can still reference the item after it is gone.
type QueueItem struct {
	ID           int        `json:"id"`
	RoomCode     string     `json:"room_code"`
	TrackID      string     `json:"track_id"`
	Index        int        `json:"index"`
	ShuffleIndex *int       `json:"shuffle_index"`
	IsDeleted    bool       `json:"is_deleted"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ActiveIndex returns the position of the item under the ordering that is
// currently in effect for the room. Falls back to the unshuffled index when
// shuffle is on but the item has no shuffle position yet.
func (q QueueItem) ActiveIndex(shuffled bool) int {
	if shuffled && q.ShuffleIndex != nil {
		return *q.ShuffleIndex
	}
	return q.Index
}
