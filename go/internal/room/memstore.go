package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/jukebox/go/internal/models"
)

// MemStore is an in-memory Store for tests and single-node deployments that
// do not need durability.
type MemStore struct {
	mu     sync.RWMutex
	rooms  map[string]models.RoomState
	items  map[string][]models.QueueItem
	nextID int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		rooms:  make(map[string]models.RoomState),
		items:  make(map[string][]models.QueueItem),
		nextID: 1,
	}
}

func (s *MemStore) GetRoom(_ context.Context, roomCode string) (models.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.rooms[roomCode]
	if !ok {
		return models.RoomState{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomCode)
	}
	return state, nil
}

func (s *MemStore) CreateRoom(_ context.Context, state models.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[state.RoomCode]; ok {
		return fmt.Errorf("room %s already exists", state.RoomCode)
	}
	s.rooms[state.RoomCode] = state
	return nil
}

func (s *MemStore) PutRoom(_ context.Context, state models.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[state.RoomCode] = state
	return nil
}

func (s *MemStore) ListItems(_ context.Context, roomCode string) ([]models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[roomCode]
	out := make([]models.QueueItem, len(items))
	copy(out, items)
	return out, nil
}

func (s *MemStore) InsertItems(_ context.Context, roomCode string, items []models.QueueItem) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueueItem, len(items))
	for i, it := range items {
		it.ID = s.nextID
		s.nextID++
		it.RoomCode = roomCode
		s.items[roomCode] = append(s.items[roomCode], it)
		out[i] = it
	}
	return out, nil
}

func (s *MemStore) UpdateItems(_ context.Context, roomCode string, items []models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.items[roomCode]
	for _, it := range items {
		found := false
		for i := range existing {
			if existing[i].ID == it.ID {
				existing[i] = it
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: item %d", ErrItemNotFound, it.ID)
		}
	}
	s.items[roomCode] = existing
	return nil
}
