package replica

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/mcdev12/jukebox/go/internal/fingerprint"
	"github.com/mcdev12/jukebox/go/internal/models"
	"github.com/mcdev12/jukebox/go/internal/room/events"
)

func intPtr(v int) *int        { return &v }
func strPtr(v string) *string  { return &v }
func seedPtr(v uint32) *uint32 { return &v }
func int64Ptr(v int64) *int64  { return &v }

func testRoom(shuffled bool) models.RoomState {
	return models.RoomState{
		RoomCode:           "ABCD",
		IsShuffled:         shuffled,
		CurrentItemID:      intPtr(1),
		CurrentItemIndex:   intPtr(0),
		CurrentItemTrackID: strPtr("track-1"),
	}
}

func testItems(n int) []models.QueueItem {
	items := make([]models.QueueItem, n)
	for i := range items {
		items[i] = models.QueueItem{
			ID:       i + 1,
			RoomCode: "ABCD",
			TrackID:  "track-" + string(rune('0'+i+1)),
			Index:    i,
		}
	}
	return items
}

func mustEvent(t *testing.T, eventType events.EventType, payload interface{}) events.RoomEvent {
	t.Helper()
	evt, err := events.New("ABCD", eventType, 0, "", payload)
	if err != nil {
		t.Fatalf("build %s event: %v", eventType, err)
	}
	return evt
}

func orderedIDs(m *Mirror) []int {
	view := m.Items()
	ids := make([]int, len(view))
	for i, it := range view {
		ids[i] = it.ID
	}
	return ids
}

func TestSnapshotMergeOrderIndependent(t *testing.T) {
	base := []models.QueueItem{
		{ID: 1, Index: 0},
		{ID: 2, Index: 1, IsDeleted: true},
		{ID: 3, Index: 1},
	}
	permutations := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	var want []int
	for i, perm := range permutations {
		items := make([]models.QueueItem, len(base))
		for j, idx := range perm {
			items[j] = base[idx]
		}
		m := NewMirror()
		m.ApplySnapshot(testRoom(false), items)

		got := orderedIDs(m)
		if i == 0 {
			want = got
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %v produced %v, expected %v", perm, got, want)
		}
		if _, ok := m.Item(2); ok {
			t.Fatalf("tombstoned item 2 must not survive the merge")
		}
	}
	if !reflect.DeepEqual(want, []int{1, 3}) {
		t.Fatalf("expected mapping {1,3}, got %v", want)
	}
}

func TestSnapshotAppliedTwiceConverges(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(3))
	first := orderedIDs(m)
	m.ApplySnapshot(testRoom(false), testItems(3))
	if got := orderedIDs(m); !reflect.DeepEqual(got, first) {
		t.Fatalf("double snapshot diverged: %v vs %v", got, first)
	}
}

func TestQueueDeletedIdempotent(t *testing.T) {
	evt := mustEvent(t, events.EventTypeQueueDeleted, events.QueueDeletedPayload{
		DeletedItemID:      3,
		CurrentItemIndex:   intPtr(0),
		CurrentItemID:      intPtr(1),
		CurrentItemTrackID: strPtr("track-1"),
	})

	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(5))
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	once := m.Items()

	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("duplicate delete failed: %v", err)
	}
	twice := m.Items()

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("duplicate delivery diverged: %v vs %v", once, twice)
	}
	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 2, 4, 5}) {
		t.Fatalf("expected view [1 2 4 5], got %v", got)
	}
	for i, it := range m.Items() {
		if it.Index != i {
			t.Fatalf("indexes must stay dense after delete, item %d has index %d", it.ID, it.Index)
		}
	}
}

func TestQueueMovedRenumbering(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(5))

	evt := mustEvent(t, events.EventTypeQueueMoved, events.QueueMovedPayload{
		From:               0,
		To:                 2,
		CurrentItemIndex:   intPtr(2),
		CurrentItemID:      intPtr(1),
		CurrentItemTrackID: strPtr("track-1"),
	})
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{2, 3, 1, 4, 5}) {
		t.Fatalf("expected view [2 3 1 4 5], got %v", got)
	}
	for i, it := range m.Items() {
		if it.Index != i {
			t.Fatalf("expected dense renumbering, item %d has index %d", it.ID, it.Index)
		}
	}
}

func TestQueueMovedOutOfRangeMarksSuspect(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(3))

	evt := mustEvent(t, events.EventTypeQueueMoved, events.QueueMovedPayload{From: 0, To: 9})
	if err := m.ApplyEvent(evt); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if !m.Suspect() {
		t.Fatalf("mirror must be suspect after a malformed move")
	}
	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("malformed move must not mutate the view, got %v", got)
	}
}

func TestShuffleToggledRecomputesOrderFromSeed(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(5))

	evt := mustEvent(t, events.EventTypeShuffleToggled, events.ShuffleToggledPayload{
		IsShuffled:              true,
		Seed:                    seedPtr(999),
		CurrentItemIndex:        intPtr(0),
		CurrentItemShuffleIndex: intPtr(0),
		CurrentItemID:           intPtr(1),
		CurrentItemTrackID:      strPtr("track-1"),
	})
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("shuffle toggle failed: %v", err)
	}

	// Current item pinned first, remaining ids {2,3,4,5} permuted by seed 999.
	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 4, 5, 3, 2}) {
		t.Fatalf("expected shuffled view [1 4 5 3 2], got %v", got)
	}

	// A second mirror replaying the same event converges bit-for-bit.
	m2 := NewMirror()
	m2.ApplySnapshot(testRoom(false), testItems(5))
	if err := m2.ApplyEvent(evt); err != nil {
		t.Fatalf("replayed shuffle toggle failed: %v", err)
	}
	if !reflect.DeepEqual(orderedIDs(m), orderedIDs(m2)) {
		t.Fatalf("two mirrors diverged on one seed: %v vs %v", orderedIDs(m), orderedIDs(m2))
	}
	if m.Fingerprint() != m2.Fingerprint() {
		t.Fatalf("fingerprints diverged on one seed")
	}
}

func TestShuffleToggledOffClearsShuffleIndexes(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(5))
	on := mustEvent(t, events.EventTypeShuffleToggled, events.ShuffleToggledPayload{
		IsShuffled:              true,
		Seed:                    seedPtr(777),
		CurrentItemIndex:        intPtr(0),
		CurrentItemShuffleIndex: intPtr(0),
		CurrentItemID:           intPtr(1),
		CurrentItemTrackID:      strPtr("track-1"),
	})
	if err := m.ApplyEvent(on); err != nil {
		t.Fatalf("shuffle on failed: %v", err)
	}
	off := mustEvent(t, events.EventTypeShuffleToggled, events.ShuffleToggledPayload{
		IsShuffled:         false,
		CurrentItemIndex:   intPtr(0),
		CurrentItemID:      intPtr(1),
		CurrentItemTrackID: strPtr("track-1"),
	})
	if err := m.ApplyEvent(off); err != nil {
		t.Fatalf("shuffle off failed: %v", err)
	}

	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("expected unshuffled view [1 2 3 4 5], got %v", got)
	}
	for _, it := range m.Items() {
		if it.ShuffleIndex != nil {
			t.Fatalf("item %d kept shuffle index %d after shuffle off", it.ID, *it.ShuffleIndex)
		}
	}
}

func TestShuffleToggledWithoutSeedMarksSuspect(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(3))
	evt := mustEvent(t, events.EventTypeShuffleToggled, events.ShuffleToggledPayload{IsShuffled: true})
	if err := m.ApplyEvent(evt); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if !m.Suspect() {
		t.Fatalf("mirror must be suspect after seedless shuffle enable")
	}
}

func TestQueueAddedShiftsExistingItems(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(3))

	// Server inserted two items right after the current item (index 0).
	added := []models.QueueItem{
		{ID: 10, RoomCode: "ABCD", TrackID: "track-x", Index: 1},
		{ID: 11, RoomCode: "ABCD", TrackID: "track-y", Index: 2},
	}
	evt := mustEvent(t, events.EventTypeQueueAdded, events.QueueAddedPayload{
		AddedItems:         added,
		CurrentItemIndex:   intPtr(0),
		CurrentItemID:      intPtr(1),
		CurrentItemTrackID: strPtr("track-1"),
	})
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 10, 11, 2, 3}) {
		t.Fatalf("expected view [1 10 11 2 3], got %v", got)
	}
	for i, it := range m.Items() {
		if it.Index != i {
			t.Fatalf("expected dense indexes after insert, item %d has %d", it.ID, it.Index)
		}
	}
}

func TestQueueClearedKeepsOnlyCurrent(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(4))

	evt := mustEvent(t, events.EventTypeQueueCleared, events.QueueClearedPayload{CurrentItemID: 2})
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("expected only item 2 to survive, got %v", got)
	}
	it, _ := m.Item(2)
	if it.Index != 0 {
		t.Fatalf("surviving item must be reindexed to 0, has %d", it.Index)
	}
}

func TestPauseAndSeekUpdatePlaybackAnchor(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(1))

	pause := mustEvent(t, events.EventTypePauseToggled, events.PauseToggledPayload{
		IsPaused:     false,
		PlayingSince: int64Ptr(1_700_000_000_000),
	})
	if err := m.ApplyEvent(pause); err != nil {
		t.Fatalf("pause toggle failed: %v", err)
	}
	room := m.Room()
	if room.IsPaused || room.PlayingSince == nil || *room.PlayingSince != 1_700_000_000_000 {
		t.Fatalf("unexpected room state after pause toggle: %+v", room)
	}

	seek := mustEvent(t, events.EventTypeTrackSeeked, events.TrackSeekedPayload{
		PlayingSince: int64Ptr(1_700_000_042_000),
	})
	if err := m.ApplyEvent(seek); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if got := *m.Room().PlayingSince; got != 1_700_000_042_000 {
		t.Fatalf("expected anchor 1700000042000, got %d", got)
	}
}

func TestMalformedDataMarksSuspect(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(2))

	evt := events.RoomEvent{
		ID:       "x",
		RoomCode: "ABCD",
		Type:     events.EventTypeQueueMoved,
		Data:     json.RawMessage(`{"from": "not-a-number"}`),
	}
	if err := m.ApplyEvent(evt); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if !m.Suspect() {
		t.Fatalf("mirror must be suspect after malformed payload")
	}
}

func TestUnknownEventTypeMarksSuspect(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), nil)
	evt := events.RoomEvent{Type: "Exploded", Data: json.RawMessage(`{}`)}
	if err := m.ApplyEvent(evt); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for unknown type, got %v", err)
	}
	if !m.Suspect() {
		t.Fatalf("mirror must be suspect after unknown event type")
	}
}

func TestResyncEventMarksSuspect(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(2))
	evt := mustEvent(t, events.EventTypeResync, events.ResyncPayload{Fingerprint: "abc"})
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("resync apply failed: %v", err)
	}
	if !m.Suspect() {
		t.Fatalf("mirror must want a snapshot after Resync")
	}
	m.ApplySnapshot(testRoom(false), testItems(2))
	if m.Suspect() {
		t.Fatalf("fresh snapshot must clear the suspect flag")
	}
}

func TestFingerprintMismatchMarksSuspect(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(3))

	evt := mustEvent(t, events.EventTypeLoopToggled, events.LoopToggledPayload{IsLooping: true})
	evt.Fingerprint = "not-the-real-fingerprint"
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("loop toggle failed: %v", err)
	}
	if !m.Suspect() {
		t.Fatalf("mirror must be suspect when the server fingerprint disagrees")
	}
}

func TestDuplicateQueueAddedForcesResync(t *testing.T) {
	m := NewMirror()
	m.ApplySnapshot(testRoom(false), testItems(3))

	added := []models.QueueItem{
		{ID: 10, RoomCode: "ABCD", TrackID: "track-x", Index: 1},
	}
	expected := []models.QueueItem{
		{ID: 1, RoomCode: "ABCD", TrackID: "track-1", Index: 0},
		{ID: 10, RoomCode: "ABCD", TrackID: "track-x", Index: 1},
		{ID: 2, RoomCode: "ABCD", TrackID: "track-2", Index: 2},
		{ID: 3, RoomCode: "ABCD", TrackID: "track-3", Index: 3},
	}
	evt, err := events.New("ABCD", events.EventTypeQueueAdded, 0, fingerprint.ForQueue(expected, false), events.QueueAddedPayload{
		AddedItems:         added,
		CurrentItemIndex:   intPtr(0),
		CurrentItemID:      intPtr(1),
		CurrentItemTrackID: strPtr("track-1"),
	})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if m.Suspect() {
		t.Fatal("first delivery must apply cleanly")
	}
	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 10, 2, 3}) {
		t.Fatalf("expected view [1 10 2 3], got %v", got)
	}

	// A redelivered add re-shifts indexes instead of converging; the
	// fingerprint check turns that into a resync rather than silent drift.
	if err := m.ApplyEvent(evt); err != nil {
		t.Fatalf("duplicate delivery must not error: %v", err)
	}
	if !m.Suspect() {
		t.Fatal("duplicate delivery must leave the mirror suspect")
	}

	m.ApplySnapshot(testRoom(false), expected)
	if m.Suspect() {
		t.Fatal("snapshot must clear the suspect flag")
	}
	if got := orderedIDs(m); !reflect.DeepEqual(got, []int{1, 10, 2, 3}) {
		t.Fatalf("expected view [1 10 2 3] after resync, got %v", got)
	}
}
