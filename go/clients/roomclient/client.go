package roomclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jukebox/go/internal/clocksync"
	"github.com/mcdev12/jukebox/go/internal/replica"
	"github.com/mcdev12/jukebox/go/internal/room/events"
	"github.com/mcdev12/jukebox/go/internal/timesync"
)

// Config holds connection settings for a room client.
type Config struct {
	BaseURL          string
	RoomCode         string
	UserID           string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func DefaultConfig(baseURL, roomCode, userID string) Config {
	return Config{
		BaseURL:          baseURL,
		RoomCode:         roomCode,
		UserID:           userID,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Client is a connected room participant. It keeps a local mirror of the
// room in sync with the server's event stream and stamps outgoing commands
// with the estimated server time and the mirror's fingerprint.
type Client struct {
	config    Config
	conn      *websocket.Conn
	mirror    *replica.Mirror
	estimator *clocksync.Estimator

	writeMu sync.Mutex
	eventCh chan events.RoomEvent
	done    chan struct{}
	closed  sync.Once
}

// Connect dials the room, performs a clock sync round, and blocks until the
// initial snapshot has been applied to the mirror.
func Connect(ctx context.Context, config Config) (*Client, error) {
	c := &Client{
		config:    config,
		mirror:    replica.NewMirror(),
		estimator: clocksync.New(timesync.NewHTTPSource(config.BaseURL), clockwork.NewRealClock(), clocksync.DefaultConfig()),
		eventCh:   make(chan events.RoomEvent, 256),
		done:      make(chan struct{}),
	}

	// Commands are rejected when their timestamp drifts too far from the
	// server clock, so sync before sending anything. A failed round still
	// leaves the local clock usable.
	if err := c.estimator.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("clock sync failed, using local clock")
	}

	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial room %s: %w", config.RoomCode, err)
	}
	c.conn = conn

	// The first frame is always the snapshot.
	evt, err := c.readRoomEvent()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read initial snapshot: %w", err)
	}
	if evt.Type != events.EventTypeRoomInfo {
		conn.Close()
		return nil, fmt.Errorf("expected snapshot as first frame, got %s", evt.Type)
	}
	if err := c.applyEvent(evt); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/room"
	q := u.Query()
	q.Set("room_code", c.config.RoomCode)
	q.Set("user_id", c.config.UserID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Mirror exposes the local room replica.
func (c *Client) Mirror() *replica.Mirror {
	return c.mirror
}

// Events delivers every event received from the server, after it has been
// applied to the mirror. The channel is closed when the connection drops.
func (c *Client) Events() <-chan events.RoomEvent {
	return c.eventCh
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send builds a command envelope stamped with the estimated server time and
// the mirror's current fingerprint, and writes it to the connection.
func (c *Client) Send(name events.CommandName, args interface{}) error {
	cmd, err := events.NewCommand(name, c.estimator.NowUnixMilli(), c.mirror.Fingerprint(), args)
	if err != nil {
		return fmt.Errorf("failed to build %s command: %w", name, err)
	}
	return c.writeJSON(cmd)
}

func (c *Client) TogglePause(paused bool) error {
	return c.Send(events.CommandPauseToggle, events.PauseToggleArgs{Paused: paused})
}

func (c *Client) ToggleLoop(looping bool) error {
	return c.Send(events.CommandLoopToggle, events.LoopToggleArgs{Looping: looping})
}

func (c *Client) ToggleShuffle(shuffled bool) error {
	return c.Send(events.CommandShuffleToggle, events.ShuffleToggleArgs{Shuffled: shuffled})
}

func (c *Client) Seek(seconds int, pause bool) error {
	return c.Send(events.CommandSeek, events.SeekArgs{Seconds: seconds, Pause: pause})
}

func (c *Client) Skip(index int) error {
	return c.Send(events.CommandSkip, events.SkipArgs{Index: index})
}

func (c *Client) Move(from, to int) error {
	return c.Send(events.CommandMove, events.MoveArgs{From: from, To: to})
}

func (c *Client) Add(trackIDs ...string) error {
	return c.Send(events.CommandAdd, events.AddArgs{TrackIDs: trackIDs})
}

func (c *Client) Delete(itemID int) error {
	return c.Send(events.CommandDelete, events.DeleteArgs{ItemID: itemID})
}

func (c *Client) Clear() error {
	return c.Send(events.CommandClear, struct{}{})
}

// RequestSnapshot asks the server for a fresh snapshot of the room.
func (c *Client) RequestSnapshot() error {
	return c.Send(events.CommandRoomInfo, struct{}{})
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

func (c *Client) readRoomEvent() (events.RoomEvent, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return events.RoomEvent{}, err
	}
	var evt events.RoomEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return events.RoomEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return evt, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.eventCh)

	for {
		evt, err := c.readRoomEvent()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("room_code", c.config.RoomCode).Msg("connection lost")
			}
			return
		}

		if err := c.applyEvent(evt); err != nil {
			log.Warn().Err(err).Str("event_type", string(evt.Type)).Msg("failed to apply event")
		}

		// A suspect mirror cannot stamp valid fingerprints; recover with
		// a fresh snapshot before the next command goes out.
		if c.mirror.Suspect() {
			if err := c.RequestSnapshot(); err != nil {
				log.Warn().Err(err).Msg("failed to request snapshot")
			}
		}

		select {
		case c.eventCh <- evt:
		default:
			log.Debug().Str("event_type", string(evt.Type)).Msg("event channel full, dropping")
		}
	}
}

func (c *Client) applyEvent(evt events.RoomEvent) error {
	switch evt.Type {
	case events.EventTypeRoomInfo:
		payload, err := events.ParseEventPayload(evt)
		if err != nil {
			return fmt.Errorf("failed to parse snapshot: %w", err)
		}
		info := payload.(events.RoomInfoPayload)
		c.mirror.ApplySnapshot(info.Room, info.Items)
		return nil
	case events.EventTypeError:
		// Errors are informational; the mirror state did not change.
		return nil
	default:
		return c.mirror.ApplyEvent(evt)
	}
}
