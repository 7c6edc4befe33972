package gateway

import (
	"context"

	"github.com/mcdev12/jukebox/go/internal/room/events"
)

// DirectPublisher feeds room events straight into the connection manager,
// bypassing the outbox and broker. Single-node deployments use it so the
// whole pipeline runs in one process; everything downstream of the publisher
// interface behaves the same either way.
type DirectPublisher struct {
	connectionManager *ConnectionManager
}

func NewDirectPublisher(cm *ConnectionManager) *DirectPublisher {
	return &DirectPublisher{connectionManager: cm}
}

func (p *DirectPublisher) Publish(_ context.Context, evt events.RoomEvent) error {
	p.connectionManager.BroadcastToRoom(evt.RoomCode, evt)
	return nil
}
