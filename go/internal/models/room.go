package models

// RoomState is the global playback state of one room. It is mutated only by
// the authoritative room service; clients hold a read-only mirror rebuilt
// from the event stream.
//
// PlayingSince is the server-clock instant (Unix ms) at which playback
// position zero coincided with transport time zero; nil while nothing is
// playing. The current playback offset is serverNow - PlayingSince.
type RoomState struct {
	RoomCode                string  `json:"room_code"`
	IsPaused                bool    `json:"is_paused"`
	IsLooping               bool    `json:"is_looping"`
	IsShuffled              bool    `json:"is_shuffled"`
	CurrentItemID           *int    `json:"current_item_id"`
	CurrentItemIndex        *int    `json:"current_item_index"`
	CurrentItemShuffleIndex *int    `json:"current_item_shuffle_index"`
	CurrentItemTrackID      *string `json:"current_item_track_id"`
	PlayingSince            *int64  `json:"playing_since"`
	PausedAt                *int64  `json:"paused_at"`
}
