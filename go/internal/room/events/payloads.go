package events

import "github.com/mcdev12/jukebox/go/internal/models"

// Every delta payload carries the resulting current-item pointers
// redundantly, so a client that missed intermediate events still lands on a
// consistent current track.

// RoomInfoPayload is the full snapshot pushed on connect and on resync.
type RoomInfoPayload struct {
	Room  models.RoomState   `json:"room"`
	Items []models.QueueItem `json:"items"`
}

type PauseToggledPayload struct {
	IsPaused     bool   `json:"is_paused"`
	PlayingSince *int64 `json:"playing_since"`
	PausedAt     *int64 `json:"paused_at"`
}

type LoopToggledPayload struct {
	IsLooping bool `json:"is_looping"`
}

// ShuffleToggledPayload transmits only the seed; each client recomputes the
// permutation locally instead of receiving the reordered queue.
type ShuffleToggledPayload struct {
	IsShuffled              bool    `json:"is_shuffled"`
	Seed                    *uint32 `json:"seed"`
	CurrentItemIndex        *int    `json:"current_item_index"`
	CurrentItemShuffleIndex *int    `json:"current_item_shuffle_index"`
	CurrentItemID           *int    `json:"current_item_id"`
	CurrentItemTrackID      *string `json:"current_item_track_id"`
}

type TrackSeekedPayload struct {
	IsPaused     bool   `json:"is_paused"`
	PlayingSince *int64 `json:"playing_since"`
	PausedAt     *int64 `json:"paused_at"`
}

type TrackSkippedPayload struct {
	PlayingSince            *int64  `json:"playing_since"`
	CurrentItemIndex        *int    `json:"current_item_index"`
	CurrentItemShuffleIndex *int    `json:"current_item_shuffle_index"`
	CurrentItemID           *int    `json:"current_item_id"`
	CurrentItemTrackID      *string `json:"current_item_track_id"`
}

type QueueMovedPayload struct {
	From                    int     `json:"from"`
	To                      int     `json:"to"`
	CurrentItemIndex        *int    `json:"current_item_index"`
	CurrentItemShuffleIndex *int    `json:"current_item_shuffle_index"`
	CurrentItemID           *int    `json:"current_item_id"`
	CurrentItemTrackID      *string `json:"current_item_track_id"`
}

type QueueAddedPayload struct {
	AddedItems              []models.QueueItem `json:"added_items"`
	CurrentItemIndex        *int               `json:"current_item_index"`
	CurrentItemShuffleIndex *int               `json:"current_item_shuffle_index"`
	CurrentItemID           *int               `json:"current_item_id"`
	CurrentItemTrackID      *string            `json:"current_item_track_id"`
}

type QueueClearedPayload struct {
	CurrentItemID int `json:"current_item_id"`
}

type QueueDeletedPayload struct {
	DeletedItemID           int     `json:"deleted_item_id"`
	CurrentItemIndex        *int    `json:"current_item_index"`
	CurrentItemShuffleIndex *int    `json:"current_item_shuffle_index"`
	CurrentItemID           *int    `json:"current_item_id"`
	CurrentItemTrackID      *string `json:"current_item_track_id"`
}

// ResyncPayload tells a client its mirror diverged: discard it and fetch a
// fresh RoomInfo snapshot.
type ResyncPayload struct {
	Fingerprint string `json:"fingerprint"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
