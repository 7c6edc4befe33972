package replica

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/jukebox/go/internal/fingerprint"
	"github.com/mcdev12/jukebox/go/internal/models"
	"github.com/mcdev12/jukebox/go/internal/room/events"
	"github.com/mcdev12/jukebox/go/internal/shuffle"
)

// Mirror is the client-side canonical reconstruction of a room, built solely
// from the snapshot + delta event stream. It owns a map keyed by item ID, so
// re-applying an already-applied event converges to the same state; the
// transport may retry deliveries.
//
// A mirror that sees a malformed event, or whose fingerprint stops matching
// the server's, flags itself suspect. The owner then fetches a fresh
// snapshot instead of trusting the mirror further.
type Mirror struct {
	mu       sync.RWMutex
	room     models.RoomState
	items    map[int]models.QueueItem
	haveRoom bool
	suspect  bool
}

// ErrMalformedEvent marks a delta that could not be applied. The event is
// discarded and the mirror flagged suspect; the reducer never crashes on bad
// input.
var ErrMalformedEvent = errors.New("replica: malformed event")

func NewMirror() *Mirror {
	return &Mirror{items: make(map[int]models.QueueItem)}
}

// ApplySnapshot replaces the room state wholesale and merges the item list
// into the mapping. Tombstoned items are removed, everything else is
// inserted or overwritten. The merge is idempotent and order-independent
// within one snapshot.
func (m *Mirror) ApplySnapshot(room models.RoomState, items []models.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = room
	m.mergeItemsLocked(items)
	m.haveRoom = true
	m.suspect = false
}

// ApplyEvent folds one inbound server event into the mirror. Malformed
// events are dropped with ErrMalformedEvent and mark the mirror suspect.
// After a successful apply the event's fingerprint is compared against the
// locally recomputed one; disagreement also marks the mirror suspect.
func (m *Mirror) ApplyEvent(evt events.RoomEvent) error {
	payload, err := events.ParseEventPayload(evt)
	if err != nil {
		m.markSuspect()
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch p := payload.(type) {
	case events.RoomInfoPayload:
		m.room = p.Room
		m.mergeItemsLocked(p.Items)
		m.haveRoom = true
		m.suspect = false
	case events.PauseToggledPayload:
		m.room.IsPaused = p.IsPaused
		m.room.PlayingSince = p.PlayingSince
		m.room.PausedAt = p.PausedAt
	case events.LoopToggledPayload:
		m.room.IsLooping = p.IsLooping
	case events.TrackSeekedPayload:
		m.room.IsPaused = p.IsPaused
		m.room.PlayingSince = p.PlayingSince
		m.room.PausedAt = p.PausedAt
	case events.TrackSkippedPayload:
		m.setCurrentLocked(p.CurrentItemIndex, p.CurrentItemShuffleIndex, p.CurrentItemID, p.CurrentItemTrackID)
		m.room.IsPaused = false
		m.room.PlayingSince = p.PlayingSince
		m.room.PausedAt = nil
	case events.ShuffleToggledPayload:
		if err := m.applyShuffleToggledLocked(p); err != nil {
			m.suspect = true
			return err
		}
	case events.QueueMovedPayload:
		if err := m.applyQueueMovedLocked(p); err != nil {
			m.suspect = true
			return err
		}
	case events.QueueAddedPayload:
		m.applyQueueAddedLocked(p)
	case events.QueueClearedPayload:
		if err := m.applyQueueClearedLocked(p); err != nil {
			m.suspect = true
			return err
		}
	case events.QueueDeletedPayload:
		m.applyQueueDeletedLocked(p)
	case events.ResyncPayload:
		m.suspect = true
		return nil
	case events.ErrorPayload:
		return nil
	default:
		m.suspect = true
		return fmt.Errorf("%w: unhandled payload %T", ErrMalformedEvent, payload)
	}

	if evt.Fingerprint != "" && evt.Type != events.EventTypeRoomInfo {
		if m.fingerprintLocked() != evt.Fingerprint {
			m.suspect = true
		}
	}
	return nil
}

// Suspect reports whether the mirror wants a fresh snapshot.
func (m *Mirror) Suspect() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suspect
}

// Ready reports whether a snapshot has ever been applied.
func (m *Mirror) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.haveRoom
}

// Room returns a copy of the mirrored room state.
func (m *Mirror) Room() models.RoomState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.room
}

// Item returns the mirrored item with the given ID.
func (m *Mirror) Item(id int) (models.QueueItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	return it, ok
}

// Items returns the derived ordered view: non-deleted items sorted by the
// active index field.
func (m *Mirror) Items() []models.QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderedLocked()
}

// Fingerprint computes the digest of the mirrored queue, for stamping
// outbound commands.
func (m *Mirror) Fingerprint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fingerprintLocked()
}

func (m *Mirror) markSuspect() {
	m.mu.Lock()
	m.suspect = true
	m.mu.Unlock()
}

func (m *Mirror) fingerprintLocked() string {
	all := make([]models.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		all = append(all, it)
	}
	return fingerprint.ForQueue(all, m.room.IsShuffled)
}

func (m *Mirror) mergeItemsLocked(items []models.QueueItem) {
	for _, it := range items {
		if it.IsDeleted {
			delete(m.items, it.ID)
		} else {
			m.items[it.ID] = it
		}
	}
}

func (m *Mirror) orderedLocked() []models.QueueItem {
	out := make([]models.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		if !it.IsDeleted {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActiveIndex(m.room.IsShuffled) < out[j].ActiveIndex(m.room.IsShuffled)
	})
	return out
}

func (m *Mirror) setCurrentLocked(index, shuffleIndex, id *int, trackID *string) {
	m.room.CurrentItemIndex = index
	m.room.CurrentItemShuffleIndex = shuffleIndex
	m.room.CurrentItemID = id
	m.room.CurrentItemTrackID = trackID
}

func (m *Mirror) applyShuffleToggledLocked(p events.ShuffleToggledPayload) error {
	if p.IsShuffled {
		if p.Seed == nil {
			return fmt.Errorf("%w: ShuffleToggled enable without seed", ErrMalformedEvent)
		}
		byIndex := make([]models.QueueItem, 0, len(m.items))
		for _, it := range m.items {
			byIndex = append(byIndex, it)
		}
		sort.Slice(byIndex, func(i, j int) bool { return byIndex[i].Index < byIndex[j].Index })

		var ordered []models.QueueItem
		if p.CurrentItemID != nil {
			current, ok := m.items[*p.CurrentItemID]
			if !ok {
				return fmt.Errorf("%w: ShuffleToggled current item %d unknown", ErrMalformedEvent, *p.CurrentItemID)
			}
			others := make([]models.QueueItem, 0, len(byIndex)-1)
			for _, it := range byIndex {
				if it.ID != current.ID {
					others = append(others, it)
				}
			}
			ordered = append([]models.QueueItem{current}, shuffle.Items(others, *p.Seed)...)
		} else {
			ordered = shuffle.Items(byIndex, *p.Seed)
		}
		for i, it := range ordered {
			idx := i
			it.ShuffleIndex = &idx
			m.items[it.ID] = it
		}
	} else {
		for id, it := range m.items {
			it.ShuffleIndex = nil
			m.items[id] = it
		}
	}
	m.room.IsShuffled = p.IsShuffled
	m.setCurrentLocked(p.CurrentItemIndex, p.CurrentItemShuffleIndex, p.CurrentItemID, p.CurrentItemTrackID)
	return nil
}

// applyQueueMovedLocked reorders the view as it exists at apply time. Using
// a remembered earlier view instead would desync positions under rapid
// concurrent moves.
func (m *Mirror) applyQueueMovedLocked(p events.QueueMovedPayload) error {
	view := m.orderedLocked()
	if p.From < 0 || p.To < 0 || p.From >= len(view) || p.To >= len(view) {
		return fmt.Errorf("%w: QueueMoved %d->%d outside queue of %d", ErrMalformedEvent, p.From, p.To, len(view))
	}

	moved := view[p.From]
	view = append(view[:p.From], view[p.From+1:]...)
	view = append(view[:p.To], append([]models.QueueItem{moved}, view[p.To:]...)...)

	for i, it := range view {
		if m.room.IsShuffled {
			idx := i
			it.ShuffleIndex = &idx
		} else {
			it.Index = i
			if it.ID == moved.ID {
				it.ShuffleIndex = nil
			}
		}
		m.items[it.ID] = it
	}
	m.setCurrentLocked(p.CurrentItemIndex, p.CurrentItemShuffleIndex, p.CurrentItemID, p.CurrentItemTrackID)
	return nil
}

// applyQueueAddedLocked shifts the indexes of existing items past the
// insertion point the same way the server did, then merges the added items.
func (m *Mirror) applyQueueAddedLocked(p events.QueueAddedPayload) {
	if len(p.AddedItems) > 0 {
		insertAt := p.AddedItems[0].Index
		insertShuffleAt := -1
		for _, it := range p.AddedItems {
			if it.Index < insertAt {
				insertAt = it.Index
			}
			if it.ShuffleIndex != nil && (insertShuffleAt == -1 || *it.ShuffleIndex < insertShuffleAt) {
				insertShuffleAt = *it.ShuffleIndex
			}
		}
		count := len(p.AddedItems)
		for id, it := range m.items {
			if it.Index >= insertAt {
				it.Index += count
			}
			if insertShuffleAt >= 0 && it.ShuffleIndex != nil && *it.ShuffleIndex >= insertShuffleAt {
				idx := *it.ShuffleIndex + count
				it.ShuffleIndex = &idx
			}
			m.items[id] = it
		}
		m.mergeItemsLocked(p.AddedItems)
	}
	m.setCurrentLocked(p.CurrentItemIndex, p.CurrentItemShuffleIndex, p.CurrentItemID, p.CurrentItemTrackID)
}

func (m *Mirror) applyQueueClearedLocked(p events.QueueClearedPayload) error {
	current, ok := m.items[p.CurrentItemID]
	if !ok {
		return fmt.Errorf("%w: QueueCleared current item %d unknown", ErrMalformedEvent, p.CurrentItemID)
	}
	current.Index = 0
	if m.room.IsShuffled {
		zero := 0
		current.ShuffleIndex = &zero
	} else {
		current.ShuffleIndex = nil
	}
	m.items = map[int]models.QueueItem{current.ID: current}

	zero := 0
	m.room.CurrentItemIndex = &zero
	if m.room.IsShuffled {
		shuffleZero := 0
		m.room.CurrentItemShuffleIndex = &shuffleZero
	} else {
		m.room.CurrentItemShuffleIndex = nil
	}
	id := current.ID
	m.room.CurrentItemID = &id
	trackID := current.TrackID
	m.room.CurrentItemTrackID = &trackID
	return nil
}

// applyQueueDeletedLocked removes the item and renumbers both index fields
// contiguously, matching the server's canonicalization. Re-applying the same
// delete converges: the item is already gone and the renumbering is a no-op.
func (m *Mirror) applyQueueDeletedLocked(p events.QueueDeletedPayload) {
	delete(m.items, p.DeletedItemID)
	m.renumberLocked()
	m.setCurrentLocked(p.CurrentItemIndex, p.CurrentItemShuffleIndex, p.CurrentItemID, p.CurrentItemTrackID)
}

// renumberLocked restores dense zero-based indexes: the unshuffled order for
// Index, the shuffled order for ShuffleIndex when present.
func (m *Mirror) renumberLocked() {
	live := make([]models.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		if !it.IsDeleted {
			live = append(live, it)
		}
	}

	sort.Slice(live, func(i, j int) bool { return live[i].Index < live[j].Index })
	for i := range live {
		live[i].Index = i
	}

	if m.room.IsShuffled {
		byShuffle := make([]models.QueueItem, len(live))
		copy(byShuffle, live)
		sort.Slice(byShuffle, func(i, j int) bool {
			return byShuffle[i].ActiveIndex(true) < byShuffle[j].ActiveIndex(true)
		})
		for i := range byShuffle {
			idx := i
			byShuffle[i].ShuffleIndex = &idx
			m.items[byShuffle[i].ID] = byShuffle[i]
		}
	} else {
		for _, it := range live {
			m.items[it.ID] = it
		}
	}
}
