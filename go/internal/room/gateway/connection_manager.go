package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jukebox/go/internal/room"
	"github.com/mcdev12/jukebox/go/internal/room/events"
)

// closeCodeSuperseded tells a client its identity reconnected elsewhere.
const closeCodeSuperseded = 4409

// CommandSink is what the gateway needs from the room state machine.
type CommandSink interface {
	EnsureRoom(ctx context.Context, roomCode string) error
	Apply(ctx context.Context, roomCode string, cmd events.Command) error
	Snapshot(ctx context.Context, roomCode string) (events.RoomEvent, error)
	ResyncEvent(ctx context.Context, roomCode string) (events.RoomEvent, error)
}

// ConnectionManager manages WebSocket connections for room events. One
// identity (room code + user ID) holds at most one live connection; a new
// connection for the same identity supersedes the old one.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	identities      map[identity]*Connection
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	sink     CommandSink

	broadcastCh chan BroadcastMessage
}

type identity struct {
	roomCode string
	userID   string
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	UserID   string
	RoomCode string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	// closed signals teardown to the pumps and to senders. Send itself is
	// never closed; in-flight senders race the registry, so closing the
	// channel would panic the whole process.
	closed    chan struct{}
	closeOnce sync.Once
	closeMsg  []byte
}

// signalClose marks the connection for teardown. The write pump owns the
// actual close frame so no other goroutine writes to the socket.
func (c *Connection) signalClose(msg []byte) {
	c.closeOnce.Do(func() {
		c.closeMsg = msg
		close(c.closed)
	})
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	RoomCode string
	Event    events.RoomEvent
	UserID   string // Optional: if set, only send to this user
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, sink CommandSink) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		identities:      make(map[identity]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		sink:        sink,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and pushes the
// room snapshot as the first frame.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, roomCode string) error {
	if err := cm.sink.EnsureRoom(r.Context(), roomCode); err != nil {
		return fmt.Errorf("ensure room: %w", err)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		RoomCode:    roomCode,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		closed:      make(chan struct{}),
	}

	// Enqueue the snapshot before the connection becomes visible to
	// broadcasts, so the first frame a client reads is always the snapshot.
	snapshot, err := cm.sink.Snapshot(r.Context(), roomCode)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to build snapshot: %w", err)
	}
	snapshotData, err := json.Marshal(snapshot)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	connection.Send <- snapshotData

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("room", roomCode).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection, superseding any live connection for
// the same identity.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	id := identity{roomCode: conn.RoomCode, userID: conn.UserID}

	cm.mu.Lock()
	superseded := cm.identities[id]
	if superseded != nil {
		superseded.signalClose(websocket.FormatCloseMessage(closeCodeSuperseded, "superseded by new connection"))
		cm.dropConnectionLocked(superseded)
	}
	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomCode][conn] = true
	cm.identities[id] = conn
	total := len(cm.roomConnections[conn.RoomCode])
	cm.mu.Unlock()

	if superseded != nil {
		log.Info().
			Str("connection_id", superseded.ID).
			Str("user_id", superseded.UserID).
			Str("room", superseded.RoomCode).
			Msg("connection superseded")
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", conn.RoomCode).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.dropConnectionLocked(conn)
}

func (cm *ConnectionManager) dropConnectionLocked(conn *Connection) {
	connections, exists := cm.roomConnections[conn.RoomCode]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	conn.signalClose(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomCode)
	}
	id := identity{roomCode: conn.RoomCode, userID: conn.UserID}
	if cm.identities[id] == conn {
		delete(cm.identities, id)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("room", conn.RoomCode).
		Msg("connection unregistered")
}

// BroadcastToRoom sends an event to all connections in a room
func (cm *ConnectionManager) BroadcastToRoom(roomCode string, event events.RoomEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: roomCode, Event: event}:
	default:
		log.Warn().Str("room", roomCode).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToUser sends an event to a specific user in a room
func (cm *ConnectionManager) BroadcastToUser(roomCode, userID string, event events.RoomEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: roomCode, Event: event, UserID: userID}:
	default:
		log.Warn().
			Str("room", roomCode).
			Str("user_id", userID).
			Msg("broadcast channel full, dropping user message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomCode]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the targets so the lock is not held during sends
	var targetConnections []*Connection
	for conn := range connections {
		if message.UserID != "" && conn.UserID != message.UserID {
			continue
		}
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targetConnections {
		select {
		case <-conn.closed:
			continue
		default:
		}
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room", message.RoomCode).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// sendToConnection delivers one event to a single connection.
func (cm *ConnectionManager) sendToConnection(conn *Connection, event events.RoomEvent) {
	eventData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	select {
	case <-conn.closed:
		return
	default:
	}
	select {
	case conn.Send <- eventData:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// handleCommand runs one inbound client command against the room state
// machine. Successful mutations broadcast through the event pipeline; errors
// go back to the calling connection only.
func (cm *ConnectionManager) handleCommand(conn *Connection, raw []byte) {
	var cmd events.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		cm.sendError(conn, fmt.Sprintf("malformed command: %v", err))
		return
	}

	ctx := context.Background()
	if cmd.Name == events.CommandRoomInfo {
		snapshot, err := cm.sink.Snapshot(ctx, conn.RoomCode)
		if err != nil {
			cm.sendError(conn, fmt.Sprintf("snapshot failed: %v", err))
			return
		}
		cm.sendToConnection(conn, snapshot)
		return
	}

	if err := cm.sink.Apply(ctx, conn.RoomCode, cmd); err != nil {
		if errors.Is(err, room.ErrFingerprintMismatch) {
			// The caller is out of sync; point it straight at a resync
			// in case it misses the room-wide broadcast.
			if resync, rErr := cm.sink.ResyncEvent(ctx, conn.RoomCode); rErr == nil {
				cm.sendToConnection(conn, resync)
			}
			return
		}
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Str("command", string(cmd.Name)).
			Msg("command rejected")
		cm.sendError(conn, err.Error())
	}
}

func (cm *ConnectionManager) sendError(conn *Connection, message string) {
	evt, err := events.New(conn.RoomCode, events.EventTypeError, time.Now().UnixMilli(), "", events.ErrorPayload{Message: message})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	cm.sendToConnection(conn, evt)
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	roomCounts := make(map[string]int)

	for roomCode, connections := range cm.roomConnections {
		count := len(connections)
		totalConnections += count
		roomCounts[roomCode] = count
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.closed:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, c.closeMsg)
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, closeCodeSuperseded) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.Manager.handleCommand(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
