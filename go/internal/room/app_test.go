package room

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/jukebox/go/internal/replica"
	"github.com/mcdev12/jukebox/go/internal/room/events"
)

type recordingPublisher struct {
	events []events.RoomEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.RoomEvent) error {
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) last(t *testing.T) events.RoomEvent {
	t.Helper()
	if len(p.events) == 0 {
		t.Fatal("no events published")
	}
	return p.events[len(p.events)-1]
}

func newTestApp(t *testing.T) (*App, *recordingPublisher, *clockwork.FakeClock) {
	t.Helper()
	pub := &recordingPublisher{}
	app := NewApp(NewMemStore(), pub)
	clock := clockwork.NewFakeClock()
	app.clock = clock
	app.seedFn = func() uint32 { return 999 }
	if err := app.EnsureRoom(context.Background(), "ABCD"); err != nil {
		t.Fatalf("ensure room: %v", err)
	}
	return app, pub, clock
}

// apply stamps the command with the room's current fingerprint and server
// time, the way a synchronized client would.
func apply(t *testing.T, app *App, name events.CommandName, args interface{}) error {
	t.Helper()
	snap, err := app.Snapshot(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	cmd, err := events.NewCommand(name, app.clock.Now().UnixMilli(), snap.Fingerprint, args)
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	return app.Apply(context.Background(), "ABCD", cmd)
}

func mustApply(t *testing.T, app *App, name events.CommandName, args interface{}) {
	t.Helper()
	if err := apply(t, app, name, args); err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
}

func liveIDs(t *testing.T, app *App) []int {
	t.Helper()
	view, err := app.loadView(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("load view: %v", err)
	}
	live := view.live()
	ids := make([]int, len(live))
	for i, it := range live {
		ids[i] = it.ID
	}
	return ids
}

func seedQueue(t *testing.T, app *App, tracks ...string) {
	t.Helper()
	mustApply(t, app, events.CommandAdd, events.AddArgs{TrackIDs: tracks})
}

func TestEnsureRoomIdempotent(t *testing.T) {
	app, _, _ := newTestApp(t)
	if err := app.EnsureRoom(context.Background(), "ABCD"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
}

func TestApplyUnknownRoom(t *testing.T) {
	app, _, _ := newTestApp(t)
	cmd, _ := events.NewCommand(events.CommandLoopToggle, app.clock.Now().UnixMilli(), "", events.LoopToggleArgs{Looping: true})
	if err := app.Apply(context.Background(), "NOPE", cmd); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAddPublishesAndSetsCurrent(t *testing.T) {
	app, pub, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c")

	evt := pub.last(t)
	if evt.Type != events.EventTypeQueueAdded {
		t.Fatalf("expected QueueAdded, got %s", evt.Type)
	}
	payload, err := events.ParseEventPayload(evt)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	added := payload.(events.QueueAddedPayload)
	if len(added.AddedItems) != 3 {
		t.Fatalf("expected 3 added items, got %d", len(added.AddedItems))
	}
	if added.CurrentItemID == nil || *added.CurrentItemID != added.AddedItems[0].ID {
		t.Fatalf("first added item must become current, payload %+v", added)
	}
	if got := liveIDs(t, app); len(got) != 3 {
		t.Fatalf("expected 3 live items, got %v", got)
	}
}

func TestAddInsertsAfterCurrent(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c")
	seedQueue(t, app, "track-x", "track-y")

	// Current is item 1 at position 0, so the new items land at 1 and 2.
	if got := liveIDs(t, app); !reflect.DeepEqual(got, []int{1, 4, 5, 2, 3}) {
		t.Fatalf("expected [1 4 5 2 3], got %v", got)
	}
}

func TestFingerprintMismatchPublishesResync(t *testing.T) {
	app, pub, clock := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b")

	cmd, err := events.NewCommand(events.CommandLoopToggle, clock.Now().UnixMilli(), "stale-fingerprint", events.LoopToggleArgs{Looping: true})
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	if err := app.Apply(context.Background(), "ABCD", cmd); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}

	evt := pub.last(t)
	if evt.Type != events.EventTypeResync {
		t.Fatalf("expected Resync broadcast, got %s", evt.Type)
	}
	state, err := app.store.GetRoom(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if state.IsLooping {
		t.Fatal("rejected command must not mutate the room")
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	app, _, clock := newTestApp(t)
	seedQueue(t, app, "track-a")

	snap, err := app.Snapshot(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	sentAt := clock.Now().Add(-6 * time.Second).UnixMilli()
	cmd, err := events.NewCommand(events.CommandPauseToggle, sentAt, snap.Fingerprint, events.PauseToggleArgs{Paused: true})
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	if err := app.Apply(context.Background(), "ABCD", cmd); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestPauseResumePreservesPosition(t *testing.T) {
	app, _, clock := newTestApp(t)
	seedQueue(t, app, "track-a")

	// Start playback, let 10s elapse, pause for 5s, resume.
	mustApply(t, app, events.CommandPauseToggle, events.PauseToggleArgs{Paused: false})
	clock.Advance(10 * time.Second)
	mustApply(t, app, events.CommandPauseToggle, events.PauseToggleArgs{Paused: true})
	clock.Advance(5 * time.Second)
	mustApply(t, app, events.CommandPauseToggle, events.PauseToggleArgs{Paused: false})

	state, err := app.store.GetRoom(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if state.IsPaused || state.PlayingSince == nil || state.PausedAt != nil {
		t.Fatalf("unexpected playback state: %+v", state)
	}
	elapsed := clock.Now().UnixMilli() - *state.PlayingSince
	if elapsed != 10_000 {
		t.Fatalf("expected 10s of elapsed playback after resume, got %dms", elapsed)
	}
}

func TestSeekMovesAnchor(t *testing.T) {
	app, _, clock := newTestApp(t)
	seedQueue(t, app, "track-a")

	mustApply(t, app, events.CommandSeek, events.SeekArgs{Seconds: 42})
	state, _ := app.store.GetRoom(context.Background(), "ABCD")
	if state.PlayingSince == nil {
		t.Fatal("seek must set the playback anchor")
	}
	if got := clock.Now().UnixMilli() - *state.PlayingSince; got != 42_000 {
		t.Fatalf("expected 42s position, got %dms", got)
	}
	if state.IsPaused {
		t.Fatal("plain seek must not pause")
	}
}

func TestSkipOutOfRange(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b")
	if err := apply(t, app, events.CommandSkip, events.SkipArgs{Index: 5}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestSkipSetsCurrentAndRestartsPlayback(t *testing.T) {
	app, pub, clock := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c")

	mustApply(t, app, events.CommandSkip, events.SkipArgs{Index: 2})
	state, _ := app.store.GetRoom(context.Background(), "ABCD")
	if state.CurrentItemID == nil || *state.CurrentItemID != 3 {
		t.Fatalf("expected item 3 current, got %+v", state.CurrentItemID)
	}
	if state.IsPaused || state.PlayingSince == nil || *state.PlayingSince != clock.Now().UnixMilli() {
		t.Fatalf("skip must restart playback, got %+v", state)
	}
	if pub.last(t).Type != events.EventTypeTrackSkipped {
		t.Fatalf("expected TrackSkipped, got %s", pub.last(t).Type)
	}
}

func TestMoveReordersQueue(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c", "track-d", "track-e")

	mustApply(t, app, events.CommandMove, events.MoveArgs{From: 0, To: 2})
	if got := liveIDs(t, app); !reflect.DeepEqual(got, []int{2, 3, 1, 4, 5}) {
		t.Fatalf("expected [2 3 1 4 5], got %v", got)
	}
	state, _ := app.store.GetRoom(context.Background(), "ABCD")
	if state.CurrentItemIndex == nil || *state.CurrentItemIndex != 2 {
		t.Fatalf("current item pointer must follow the move, got %+v", state.CurrentItemIndex)
	}
}

func TestDeleteCurrentRejected(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b")
	if err := apply(t, app, events.CommandDelete, events.DeleteArgs{ItemID: 1}); !errors.Is(err, ErrCurrentTrack) {
		t.Fatalf("expected ErrCurrentTrack, got %v", err)
	}
}

func TestDeleteTombstonesAndRenumbers(t *testing.T) {
	app, _, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c", "track-d")

	mustApply(t, app, events.CommandDelete, events.DeleteArgs{ItemID: 3})
	if got := liveIDs(t, app); !reflect.DeepEqual(got, []int{1, 2, 4}) {
		t.Fatalf("expected [1 2 4], got %v", got)
	}

	// The row survives as a tombstone so snapshots can propagate the delete.
	items, err := app.store.ListItems(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	foundTombstone := false
	for _, it := range items {
		if it.ID == 3 {
			foundTombstone = it.IsDeleted
		}
	}
	if !foundTombstone {
		t.Fatal("deleted item must remain as a tombstone")
	}

	if err := apply(t, app, events.CommandDelete, events.DeleteArgs{ItemID: 3}); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound on double delete, got %v", err)
	}
}

func TestClearKeepsCurrentOnly(t *testing.T) {
	app, pub, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c")

	mustApply(t, app, events.CommandClear, struct{}{})
	if got := liveIDs(t, app); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("expected only the current track to survive, got %v", got)
	}
	if pub.last(t).Type != events.EventTypeQueueCleared {
		t.Fatalf("expected QueueCleared, got %s", pub.last(t).Type)
	}
}

func TestShuffleToggleUsesSeed(t *testing.T) {
	app, pub, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c", "track-d", "track-e")

	mustApply(t, app, events.CommandShuffleToggle, events.ShuffleToggleArgs{Shuffled: true})

	// Current item pinned first, ids {2,3,4,5} permuted by seed 999.
	if got := liveIDs(t, app); !reflect.DeepEqual(got, []int{1, 4, 5, 3, 2}) {
		t.Fatalf("expected [1 4 5 3 2], got %v", got)
	}
	payload, err := events.ParseEventPayload(pub.last(t))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	toggled := payload.(events.ShuffleToggledPayload)
	if toggled.Seed == nil || *toggled.Seed != 999 {
		t.Fatalf("event must carry the broadcast seed, got %+v", toggled.Seed)
	}

	mustApply(t, app, events.CommandShuffleToggle, events.ShuffleToggleArgs{Shuffled: false})
	if got := liveIDs(t, app); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("expected base order restored, got %v", got)
	}
}

// A mirror fed only the snapshot and event stream must converge on the exact
// server order, bit for bit, including fingerprints.
func TestMirrorConvergesWithServer(t *testing.T) {
	app, pub, _ := newTestApp(t)
	seedQueue(t, app, "track-a", "track-b", "track-c", "track-d", "track-e")

	snap, err := app.Snapshot(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	mirror := replica.NewMirror()
	if err := mirror.ApplyEvent(snap); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	before := len(pub.events)
	mustApply(t, app, events.CommandShuffleToggle, events.ShuffleToggleArgs{Shuffled: true})
	mustApply(t, app, events.CommandMove, events.MoveArgs{From: 1, To: 3})
	mustApply(t, app, events.CommandDelete, events.DeleteArgs{ItemID: 2})
	for _, evt := range pub.events[before:] {
		if err := mirror.ApplyEvent(evt); err != nil {
			t.Fatalf("apply %s: %v", evt.Type, err)
		}
	}

	if mirror.Suspect() {
		t.Fatal("mirror went suspect on a clean event stream")
	}
	serverIDs := liveIDs(t, app)
	view := mirror.Items()
	mirrorIDs := make([]int, len(view))
	for i, it := range view {
		mirrorIDs[i] = it.ID
	}
	if !reflect.DeepEqual(serverIDs, mirrorIDs) {
		t.Fatalf("mirror order %v diverged from server %v", mirrorIDs, serverIDs)
	}
	if last := pub.last(t); mirror.Fingerprint() != last.Fingerprint {
		t.Fatalf("mirror fingerprint %s != server %s", mirror.Fingerprint(), last.Fingerprint)
	}
}

func TestPublishedEventsStampAppClock(t *testing.T) {
	app, pub, clock := newTestApp(t)

	mustApply(t, app, events.CommandAdd, events.AddArgs{TrackIDs: []string{"track-a"}})

	want := clock.Now().UnixMilli()
	if got := pub.last(t).SentAt; got != want {
		t.Fatalf("event stamped %d, app clock reads %d", got, want)
	}

	clock.Advance(42 * time.Second)
	mustApply(t, app, events.CommandLoopToggle, events.LoopToggleArgs{Looping: true})
	if got := pub.last(t).SentAt; got != clock.Now().UnixMilli() {
		t.Fatalf("event stamp must follow the injected clock, got %d", got)
	}
}
