package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/jukebox/go/internal/fingerprint"
	"github.com/mcdev12/jukebox/go/internal/models"
	"github.com/mcdev12/jukebox/go/internal/room/events"
	"github.com/mcdev12/jukebox/go/internal/shuffle"
)

// roomView is one room's state loaded under the room lock: the room row plus
// every item row, tombstones included. Ops mutate it in place and the whole
// view is persisted afterwards.
type roomView struct {
	room  models.RoomState
	items []models.QueueItem
}

// live returns non-deleted items ordered by the active index field.
func (v *roomView) live() []models.QueueItem {
	out := make([]models.QueueItem, 0, len(v.items))
	for _, it := range v.items {
		if !it.IsDeleted {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ActiveIndex(v.room.IsShuffled) < out[j].ActiveIndex(v.room.IsShuffled)
	})
	return out
}

func (v *roomView) fingerprint() string {
	return fingerprint.ForQueue(v.items, v.room.IsShuffled)
}

// put writes an item back into the view by ID.
func (v *roomView) put(item models.QueueItem) {
	for i := range v.items {
		if v.items[i].ID == item.ID {
			v.items[i] = item
			return
		}
	}
	v.items = append(v.items, item)
}

func (v *roomView) find(id int) (models.QueueItem, bool) {
	for _, it := range v.items {
		if it.ID == id {
			return it, true
		}
	}
	return models.QueueItem{}, false
}

// refreshCurrent recomputes the room's current-item pointers from
// CurrentItemID, clearing them if the item is gone.
func (v *roomView) refreshCurrent() {
	if v.room.CurrentItemID == nil {
		v.room.CurrentItemIndex = nil
		v.room.CurrentItemShuffleIndex = nil
		v.room.CurrentItemTrackID = nil
		return
	}
	it, ok := v.find(*v.room.CurrentItemID)
	if !ok || it.IsDeleted {
		v.room.CurrentItemID = nil
		v.room.CurrentItemIndex = nil
		v.room.CurrentItemShuffleIndex = nil
		v.room.CurrentItemTrackID = nil
		return
	}
	idx := it.Index
	v.room.CurrentItemIndex = &idx
	if it.ShuffleIndex != nil {
		sidx := *it.ShuffleIndex
		v.room.CurrentItemShuffleIndex = &sidx
	} else {
		v.room.CurrentItemShuffleIndex = nil
	}
	trackID := it.TrackID
	v.room.CurrentItemTrackID = &trackID
}

// renumber restores dense zero-based indexes over live items: the unshuffled
// order for Index, the shuffled order for ShuffleIndex when the room is
// shuffled.
func (v *roomView) renumber() {
	live := v.live()

	byIndex := make([]models.QueueItem, len(live))
	copy(byIndex, live)
	sort.Slice(byIndex, func(i, j int) bool { return byIndex[i].Index < byIndex[j].Index })
	for i := range byIndex {
		byIndex[i].Index = i
		v.put(byIndex[i])
	}

	if v.room.IsShuffled {
		byShuffle := make([]models.QueueItem, 0, len(live))
		for _, it := range byIndex {
			byShuffle = append(byShuffle, it)
		}
		sort.Slice(byShuffle, func(i, j int) bool {
			return byShuffle[i].ActiveIndex(true) < byShuffle[j].ActiveIndex(true)
		})
		for i := range byShuffle {
			idx := i
			byShuffle[i].ShuffleIndex = &idx
			v.put(byShuffle[i])
		}
	}
}

func (a *App) shuffleToggle(v *roomView, args events.ShuffleToggleArgs) (events.EventType, interface{}) {
	payload := events.ShuffleToggledPayload{IsShuffled: args.Shuffled}

	if args.Shuffled {
		seed := a.seedFn()
		payload.Seed = &seed

		byIndex := v.live()
		sort.Slice(byIndex, func(i, j int) bool { return byIndex[i].Index < byIndex[j].Index })

		var ordered []models.QueueItem
		if v.room.CurrentItemID != nil {
			if current, ok := v.find(*v.room.CurrentItemID); ok {
				others := make([]models.QueueItem, 0, len(byIndex))
				for _, it := range byIndex {
					if it.ID != current.ID {
						others = append(others, it)
					}
				}
				ordered = append([]models.QueueItem{current}, shuffle.Items(others, seed)...)
			}
		}
		if ordered == nil {
			ordered = shuffle.Items(byIndex, seed)
		}
		for i, it := range ordered {
			idx := i
			it.ShuffleIndex = &idx
			it.UpdatedAt = a.clock.Now()
			v.put(it)
		}
	} else {
		for i := range v.items {
			if v.items[i].ShuffleIndex != nil {
				v.items[i].ShuffleIndex = nil
				v.items[i].UpdatedAt = a.clock.Now()
			}
		}
	}

	v.room.IsShuffled = args.Shuffled
	v.refreshCurrent()
	payload.CurrentItemIndex = v.room.CurrentItemIndex
	payload.CurrentItemShuffleIndex = v.room.CurrentItemShuffleIndex
	payload.CurrentItemID = v.room.CurrentItemID
	payload.CurrentItemTrackID = v.room.CurrentItemTrackID
	return events.EventTypeShuffleToggled, payload
}

func (a *App) move(v *roomView, args events.MoveArgs) (events.EventType, interface{}, error) {
	live := v.live()
	if args.From < 0 || args.To < 0 || args.From >= len(live) || args.To >= len(live) {
		return "", nil, fmt.Errorf("%w: move %d->%d in queue of %d", ErrIndexOutOfRange, args.From, args.To, len(live))
	}

	moved := live[args.From]
	live = append(live[:args.From], live[args.From+1:]...)
	live = append(live[:args.To], append([]models.QueueItem{moved}, live[args.To:]...)...)

	for i, it := range live {
		if v.room.IsShuffled {
			idx := i
			it.ShuffleIndex = &idx
		} else {
			it.Index = i
			if it.ID == moved.ID {
				// Moving in the base order orphans the item's slot in any
				// stale shuffle permutation.
				it.ShuffleIndex = nil
			}
		}
		it.UpdatedAt = a.clock.Now()
		v.put(it)
	}
	v.refreshCurrent()
	return events.EventTypeQueueMoved, events.QueueMovedPayload{
		From:                    args.From,
		To:                      args.To,
		CurrentItemIndex:        v.room.CurrentItemIndex,
		CurrentItemShuffleIndex: v.room.CurrentItemShuffleIndex,
		CurrentItemID:           v.room.CurrentItemID,
		CurrentItemTrackID:      v.room.CurrentItemTrackID,
	}, nil
}

// add inserts new items directly after the current track in the active
// order. With no current track they go to the end. In shuffled rooms the
// base order always appends, only the shuffle order gets the insert.
func (a *App) add(ctx context.Context, v *roomView, args events.AddArgs) (events.EventType, interface{}, error) {
	if len(args.TrackIDs) == 0 {
		return "", nil, fmt.Errorf("add command without track ids")
	}

	live := v.live()
	count := len(args.TrackIDs)
	now := a.clock.Now()

	newItems := make([]models.QueueItem, count)
	for i, trackID := range args.TrackIDs {
		newItems[i] = models.QueueItem{RoomCode: v.room.RoomCode, TrackID: trackID, UpdatedAt: now}
	}

	if v.room.IsShuffled {
		maxIndex := -1
		for _, it := range live {
			if it.Index > maxIndex {
				maxIndex = it.Index
			}
		}
		insertAt := len(live)
		if v.room.CurrentItemShuffleIndex != nil {
			insertAt = *v.room.CurrentItemShuffleIndex + 1
		}
		for i := range v.items {
			it := &v.items[i]
			if !it.IsDeleted && it.ShuffleIndex != nil && *it.ShuffleIndex >= insertAt {
				idx := *it.ShuffleIndex + count
				it.ShuffleIndex = &idx
				it.UpdatedAt = now
			}
		}
		for i := range newItems {
			newItems[i].Index = maxIndex + 1 + i
			sidx := insertAt + i
			newItems[i].ShuffleIndex = &sidx
		}
	} else {
		insertAt := len(live)
		if v.room.CurrentItemIndex != nil {
			insertAt = *v.room.CurrentItemIndex + 1
		}
		for i := range v.items {
			it := &v.items[i]
			if !it.IsDeleted && it.Index >= insertAt {
				it.Index += count
				it.UpdatedAt = now
			}
		}
		for i := range newItems {
			newItems[i].Index = insertAt + i
		}
	}

	inserted, err := a.store.InsertItems(ctx, v.room.RoomCode, newItems)
	if err != nil {
		return "", nil, fmt.Errorf("insert items: %w", err)
	}
	v.items = append(v.items, inserted...)

	if v.room.CurrentItemID == nil {
		id := inserted[0].ID
		v.room.CurrentItemID = &id
	}
	v.refreshCurrent()
	return events.EventTypeQueueAdded, events.QueueAddedPayload{
		AddedItems:              inserted,
		CurrentItemIndex:        v.room.CurrentItemIndex,
		CurrentItemShuffleIndex: v.room.CurrentItemShuffleIndex,
		CurrentItemID:           v.room.CurrentItemID,
		CurrentItemTrackID:      v.room.CurrentItemTrackID,
	}, nil
}

func (a *App) delete(v *roomView, args events.DeleteArgs) (events.EventType, interface{}, error) {
	it, ok := v.find(args.ItemID)
	if !ok || it.IsDeleted {
		return "", nil, fmt.Errorf("%w: item %d", ErrItemNotFound, args.ItemID)
	}
	if v.room.CurrentItemID != nil && *v.room.CurrentItemID == it.ID {
		return "", nil, fmt.Errorf("%w: item %d", ErrCurrentTrack, it.ID)
	}

	it.IsDeleted = true
	it.UpdatedAt = a.clock.Now()
	v.put(it)
	v.renumber()
	v.refreshCurrent()
	return events.EventTypeQueueDeleted, events.QueueDeletedPayload{
		DeletedItemID:           it.ID,
		CurrentItemIndex:        v.room.CurrentItemIndex,
		CurrentItemShuffleIndex: v.room.CurrentItemShuffleIndex,
		CurrentItemID:           v.room.CurrentItemID,
		CurrentItemTrackID:      v.room.CurrentItemTrackID,
	}, nil
}

// clear tombstones everything except the current track, which becomes the
// whole queue at position zero.
func (a *App) clear(v *roomView) (events.EventType, interface{}, error) {
	if v.room.CurrentItemID == nil {
		return "", nil, fmt.Errorf("%w: nothing is playing", ErrQueueEmpty)
	}
	currentID := *v.room.CurrentItemID
	now := a.clock.Now()

	for i := range v.items {
		it := &v.items[i]
		if it.IsDeleted {
			continue
		}
		if it.ID == currentID {
			it.Index = 0
			if v.room.IsShuffled {
				zero := 0
				it.ShuffleIndex = &zero
			} else {
				it.ShuffleIndex = nil
			}
		} else {
			it.IsDeleted = true
		}
		it.UpdatedAt = now
	}
	v.refreshCurrent()
	return events.EventTypeQueueCleared, events.QueueClearedPayload{CurrentItemID: currentID}, nil
}

// roomLocks serializes command processing per room code.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*sync.Mutex)}
}

func (r *roomLocks) lock(roomCode string) func() {
	r.mu.Lock()
	l, ok := r.locks[roomCode]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomCode] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound)
}
