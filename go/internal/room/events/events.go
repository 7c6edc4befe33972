package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RoomEvent is the wire envelope for one server→client room event. Data
// carries the type-specific payload; Fingerprint is the room's queue
// fingerprint after the mutation the event describes.
type RoomEvent struct {
	ID          string          `json:"id"`
	RoomCode    string          `json:"room_code"`
	Type        EventType       `json:"type"`
	SentAt      int64           `json:"sent_at"`
	Fingerprint string          `json:"fingerprint"`
	Data        json.RawMessage `json:"data"`
}

// EventType enumerates the closed set of room events. Unknown types are
// rejected at the boundary rather than deep in reducer logic.
type EventType string

const (
	EventTypeRoomInfo       EventType = "RoomInfo"
	EventTypePauseToggled   EventType = "PauseToggled"
	EventTypeLoopToggled    EventType = "LoopToggled"
	EventTypeShuffleToggled EventType = "ShuffleToggled"
	EventTypeTrackSeeked    EventType = "TrackSeeked"
	EventTypeTrackSkipped   EventType = "TrackSkipped"
	EventTypeQueueMoved     EventType = "QueueMoved"
	EventTypeQueueAdded     EventType = "QueueAdded"
	EventTypeQueueCleared   EventType = "QueueCleared"
	EventTypeQueueDeleted   EventType = "QueueDeleted"
	EventTypeResync         EventType = "Resync"
	// EventTypeError is sent to a single connection when its command fails.
	// It never replicates queue state.
	EventTypeError EventType = "Error"
)

// New builds an envelope around a typed payload. Callers stamp sentAt from
// their own clock so fake-clock tests produce consistent envelopes.
func New(roomCode string, eventType EventType, sentAt int64, fp string, payload interface{}) (RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return RoomEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return RoomEvent{
		ID:          uuid.New().String(),
		RoomCode:    roomCode,
		Type:        eventType,
		SentAt:      sentAt,
		Fingerprint: fp,
		Data:        data,
	}, nil
}

// ParseEventPayload parses an envelope's data into the payload struct for
// its type.
func ParseEventPayload(evt RoomEvent) (interface{}, error) {
	switch evt.Type {
	case EventTypeRoomInfo:
		return unmarshalPayload[RoomInfoPayload](evt)
	case EventTypePauseToggled:
		return unmarshalPayload[PauseToggledPayload](evt)
	case EventTypeLoopToggled:
		return unmarshalPayload[LoopToggledPayload](evt)
	case EventTypeShuffleToggled:
		return unmarshalPayload[ShuffleToggledPayload](evt)
	case EventTypeTrackSeeked:
		return unmarshalPayload[TrackSeekedPayload](evt)
	case EventTypeTrackSkipped:
		return unmarshalPayload[TrackSkippedPayload](evt)
	case EventTypeQueueMoved:
		return unmarshalPayload[QueueMovedPayload](evt)
	case EventTypeQueueAdded:
		return unmarshalPayload[QueueAddedPayload](evt)
	case EventTypeQueueCleared:
		return unmarshalPayload[QueueClearedPayload](evt)
	case EventTypeQueueDeleted:
		return unmarshalPayload[QueueDeletedPayload](evt)
	case EventTypeResync:
		return unmarshalPayload[ResyncPayload](evt)
	case EventTypeError:
		return unmarshalPayload[ErrorPayload](evt)
	default:
		return nil, fmt.Errorf("unknown event type %q", evt.Type)
	}
}

func unmarshalPayload[T any](evt RoomEvent) (T, error) {
	var payload T
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", evt.Type, err)
	}
	return payload, nil
}
