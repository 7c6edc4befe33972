package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jukebox/go/internal/room/events"
)

// OutboxInserter defines what the app layer needs from the repository.
type OutboxInserter interface {
	Insert(ctx context.Context, roomCode, eventType string, payload []byte) error
}

// App stages room events in the outbox table. It satisfies the room
// service's publisher interface, so events are committed alongside room
// state and survive a crash before broker delivery.
type App struct {
	repo OutboxInserter
}

// NewApp creates a new outbox App.
func NewApp(repo OutboxInserter) *App {
	return &App{repo: repo}
}

// Publish stages one room event for asynchronous delivery.
func (a *App) Publish(ctx context.Context, evt events.RoomEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	if err := a.repo.Insert(ctx, evt.RoomCode, string(evt.Type), payload); err != nil {
		return fmt.Errorf("failed to stage %s event: %w", evt.Type, err)
	}

	log.Debug().
		Str("room", evt.RoomCode).
		Str("event_type", string(evt.Type)).
		Str("event_id", evt.ID).
		Msg("outbox event inserted")
	return nil
}
