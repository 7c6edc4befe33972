package room

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jukebox/go/internal/models"
	"github.com/mcdev12/jukebox/go/internal/room/events"
	"github.com/mcdev12/jukebox/go/internal/shuffle"
)

// Store defines what the app layer needs from room persistence.
type Store interface {
	GetRoom(ctx context.Context, roomCode string) (models.RoomState, error)
	CreateRoom(ctx context.Context, room models.RoomState) error
	PutRoom(ctx context.Context, room models.RoomState) error
	// ListItems returns every row for the room, tombstones included.
	ListItems(ctx context.Context, roomCode string) ([]models.QueueItem, error)
	// InsertItems persists new rows and returns them with assigned IDs.
	InsertItems(ctx context.Context, roomCode string, items []models.QueueItem) ([]models.QueueItem, error)
	UpdateItems(ctx context.Context, roomCode string, items []models.QueueItem) error
}

// EventPublisher delivers one room event to every participant.
type EventPublisher interface {
	Publish(ctx context.Context, evt events.RoomEvent) error
}

// maxCommandSkew bounds how far a command's sent_at may drift from server
// time before the client's clock estimate is considered unusable.
const maxCommandSkew = 5 * time.Second

// App is the authoritative room state machine. Every mutation runs under a
// per-room lock: load, validate the caller's fingerprint, mutate, persist,
// publish exactly one event carrying the post-mutation fingerprint.
type App struct {
	store     Store
	publisher EventPublisher
	clock     clockwork.Clock
	seedFn    func() uint32

	locks *roomLocks
}

// NewApp creates a new room App.
func NewApp(store Store, publisher EventPublisher) *App {
	return &App{
		store:     store,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		seedFn:    shuffle.NewSeed,
		locks:     newRoomLocks(),
	}
}

// EnsureRoom creates the room if it does not exist yet. Joining an unknown
// room code brings it into existence.
func (a *App) EnsureRoom(ctx context.Context, roomCode string) error {
	unlock := a.locks.lock(roomCode)
	defer unlock()

	_, err := a.store.GetRoom(ctx, roomCode)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("load room %s: %w", roomCode, err)
	}
	if err := a.store.CreateRoom(ctx, models.RoomState{RoomCode: roomCode, IsPaused: true}); err != nil {
		return fmt.Errorf("create room %s: %w", roomCode, err)
	}
	log.Info().Str("room", roomCode).Msg("created room")
	return nil
}

// Apply validates and executes one client command against the room,
// publishing the resulting event on success. A fingerprint mismatch publishes
// a Resync event for the room and returns ErrFingerprintMismatch.
func (a *App) Apply(ctx context.Context, roomCode string, cmd events.Command) error {
	unlock := a.locks.lock(roomCode)
	defer unlock()

	view, err := a.loadView(ctx, roomCode)
	if err != nil {
		return err
	}

	if cmd.Name == events.CommandRoomInfo {
		// Snapshot requests carry no fingerprint and mutate nothing.
		return nil
	}

	if err := a.checkTimestamp(cmd); err != nil {
		return err
	}

	current := view.fingerprint()
	if cmd.Fingerprint != current {
		if pubErr := a.publishEvent(ctx, roomCode, events.EventTypeResync, current, events.ResyncPayload{Fingerprint: current}); pubErr != nil {
			return pubErr
		}
		return fmt.Errorf("%w: command %s built against stale queue", ErrFingerprintMismatch, cmd.Name)
	}

	args, err := events.ParseCommandArgs(cmd)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	var (
		evtType events.EventType
		payload interface{}
	)
	switch args := args.(type) {
	case events.PauseToggleArgs:
		evtType, payload = a.pauseToggle(view, args)
	case events.LoopToggleArgs:
		evtType, payload = a.loopToggle(view, args)
	case events.ShuffleToggleArgs:
		evtType, payload = a.shuffleToggle(view, args)
	case events.SeekArgs:
		evtType, payload, err = a.seek(view, args)
	case events.SkipArgs:
		evtType, payload, err = a.skip(view, args)
	case events.MoveArgs:
		evtType, payload, err = a.move(view, args)
	case events.AddArgs:
		evtType, payload, err = a.add(ctx, view, args)
	case events.DeleteArgs:
		evtType, payload, err = a.delete(view, args)
	case struct{}:
		evtType, payload, err = a.clear(view)
	default:
		return fmt.Errorf("unhandled command %s", cmd.Name)
	}
	if err != nil {
		return err
	}

	if err := a.store.PutRoom(ctx, view.room); err != nil {
		return fmt.Errorf("persist room %s: %w", roomCode, err)
	}
	if err := a.store.UpdateItems(ctx, roomCode, view.items); err != nil {
		return fmt.Errorf("persist items for %s: %w", roomCode, err)
	}

	if err := a.publishEvent(ctx, roomCode, evtType, view.fingerprint(), payload); err != nil {
		return err
	}
	log.Debug().
		Str("room", roomCode).
		Str("command", string(cmd.Name)).
		Str("event", string(evtType)).
		Msg("command applied")
	return nil
}

// Snapshot builds a RoomInfo event with the full room state, tombstones
// included so reconnecting clients drop stale entries.
func (a *App) Snapshot(ctx context.Context, roomCode string) (events.RoomEvent, error) {
	unlock := a.locks.lock(roomCode)
	defer unlock()

	view, err := a.loadView(ctx, roomCode)
	if err != nil {
		return events.RoomEvent{}, err
	}
	return events.New(roomCode, events.EventTypeRoomInfo, a.clock.Now().UnixMilli(), view.fingerprint(), events.RoomInfoPayload{
		Room:  view.room,
		Items: view.items,
	})
}

// ResyncEvent builds a Resync event carrying the room's current fingerprint.
func (a *App) ResyncEvent(ctx context.Context, roomCode string) (events.RoomEvent, error) {
	unlock := a.locks.lock(roomCode)
	defer unlock()

	view, err := a.loadView(ctx, roomCode)
	if err != nil {
		return events.RoomEvent{}, err
	}
	fp := view.fingerprint()
	return events.New(roomCode, events.EventTypeResync, a.clock.Now().UnixMilli(), fp, events.ResyncPayload{Fingerprint: fp})
}

func (a *App) publishEvent(ctx context.Context, roomCode string, evtType events.EventType, fp string, payload interface{}) error {
	evt, err := events.New(roomCode, evtType, a.clock.Now().UnixMilli(), fp, payload)
	if err != nil {
		return err
	}
	if err := a.publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publish %s: %w", evtType, err)
	}
	return nil
}

func (a *App) checkTimestamp(cmd events.Command) error {
	skew := a.clock.Now().UnixMilli() - cmd.SentAt
	if skew < 0 {
		skew = -skew
	}
	if skew > maxCommandSkew.Milliseconds() {
		return fmt.Errorf("%w: sent_at off by %dms", ErrStaleTimestamp, skew)
	}
	return nil
}

func (a *App) loadView(ctx context.Context, roomCode string) (*roomView, error) {
	state, err := a.store.GetRoom(ctx, roomCode)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomCode)
		}
		return nil, fmt.Errorf("load room %s: %w", roomCode, err)
	}
	items, err := a.store.ListItems(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("load items for %s: %w", roomCode, err)
	}
	return &roomView{room: state, items: items}, nil
}

func (a *App) pauseToggle(v *roomView, args events.PauseToggleArgs) (events.EventType, interface{}) {
	now := a.clock.Now().UnixMilli()
	if args.Paused {
		v.room.IsPaused = true
		if v.room.PlayingSince != nil {
			v.room.PausedAt = &now
		}
	} else {
		v.room.IsPaused = false
		switch {
		case v.room.PausedAt != nil && v.room.PlayingSince != nil:
			// Shift the anchor forward by the paused duration so elapsed
			// position is preserved across the pause.
			anchor := now - (*v.room.PausedAt - *v.room.PlayingSince)
			v.room.PlayingSince = &anchor
		case v.room.PlayingSince == nil:
			v.room.PlayingSince = &now
		}
		v.room.PausedAt = nil
	}
	return events.EventTypePauseToggled, events.PauseToggledPayload{
		IsPaused:     v.room.IsPaused,
		PlayingSince: v.room.PlayingSince,
		PausedAt:     v.room.PausedAt,
	}
}

func (a *App) loopToggle(v *roomView, args events.LoopToggleArgs) (events.EventType, interface{}) {
	v.room.IsLooping = args.Looping
	return events.EventTypeLoopToggled, events.LoopToggledPayload{IsLooping: v.room.IsLooping}
}

func (a *App) seek(v *roomView, args events.SeekArgs) (events.EventType, interface{}, error) {
	if v.room.CurrentItemID == nil {
		return "", nil, fmt.Errorf("%w: nothing to seek in", ErrQueueEmpty)
	}
	if args.Seconds < 0 {
		return "", nil, fmt.Errorf("%w: negative seek position", ErrIndexOutOfRange)
	}
	now := a.clock.Now().UnixMilli()
	anchor := now - int64(args.Seconds)*1000
	v.room.PlayingSince = &anchor
	if args.Pause {
		v.room.IsPaused = true
		v.room.PausedAt = &now
	} else {
		v.room.IsPaused = false
		v.room.PausedAt = nil
	}
	return events.EventTypeTrackSeeked, events.TrackSeekedPayload{
		IsPaused:     v.room.IsPaused,
		PlayingSince: v.room.PlayingSince,
		PausedAt:     v.room.PausedAt,
	}, nil
}

func (a *App) skip(v *roomView, args events.SkipArgs) (events.EventType, interface{}, error) {
	live := v.live()
	if args.Index < 0 || args.Index >= len(live) {
		return "", nil, fmt.Errorf("%w: skip to %d in queue of %d", ErrIndexOutOfRange, args.Index, len(live))
	}
	target := live[args.Index]
	id := target.ID
	v.room.CurrentItemID = &id
	v.refreshCurrent()

	now := a.clock.Now().UnixMilli()
	v.room.IsPaused = false
	v.room.PlayingSince = &now
	v.room.PausedAt = nil
	return events.EventTypeTrackSkipped, events.TrackSkippedPayload{
		PlayingSince:            v.room.PlayingSince,
		CurrentItemIndex:        v.room.CurrentItemIndex,
		CurrentItemShuffleIndex: v.room.CurrentItemShuffleIndex,
		CurrentItemID:           v.room.CurrentItemID,
		CurrentItemTrackID:      v.room.CurrentItemTrackID,
	}, nil
}
