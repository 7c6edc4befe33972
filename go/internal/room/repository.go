package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/jukebox/go/internal/models"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new room repository on the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetRoom(ctx context.Context, roomCode string) (models.RoomState, error) {
	var state models.RoomState
	err := r.pool.QueryRow(ctx, `
		SELECT room_code, is_paused, is_looping, is_shuffled,
		       current_item_id, current_item_index, current_item_shuffle_index,
		       current_item_track_id, playing_since, paused_at
		FROM rooms WHERE room_code = $1`, roomCode,
	).Scan(
		&state.RoomCode, &state.IsPaused, &state.IsLooping, &state.IsShuffled,
		&state.CurrentItemID, &state.CurrentItemIndex, &state.CurrentItemShuffleIndex,
		&state.CurrentItemTrackID, &state.PlayingSince, &state.PausedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RoomState{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomCode)
	}
	if err != nil {
		return models.RoomState{}, fmt.Errorf("failed to get room: %w", err)
	}
	return state, nil
}

func (r *Repository) CreateRoom(ctx context.Context, state models.RoomState) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (room_code, is_paused, is_looping, is_shuffled)
		VALUES ($1, $2, $3, $4)`,
		state.RoomCode, state.IsPaused, state.IsLooping, state.IsShuffled,
	)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (r *Repository) PutRoom(ctx context.Context, state models.RoomState) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE rooms SET
			is_paused = $2, is_looping = $3, is_shuffled = $4,
			current_item_id = $5, current_item_index = $6,
			current_item_shuffle_index = $7, current_item_track_id = $8,
			playing_since = $9, paused_at = $10, updated_at = now()
		WHERE room_code = $1`,
		state.RoomCode, state.IsPaused, state.IsLooping, state.IsShuffled,
		state.CurrentItemID, state.CurrentItemIndex,
		state.CurrentItemShuffleIndex, state.CurrentItemTrackID,
		state.PlayingSince, state.PausedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	return nil
}

func (r *Repository) ListItems(ctx context.Context, roomCode string) ([]models.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_code, track_id, "index", shuffle_index, is_deleted, updated_at
		FROM queue_items WHERE room_code = $1
		ORDER BY id`, roomCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var it models.QueueItem
		if err := rows.Scan(&it.ID, &it.RoomCode, &it.TrackID, &it.Index, &it.ShuffleIndex, &it.IsDeleted, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue items: %w", err)
	}
	return items, nil
}

func (r *Repository) InsertItems(ctx context.Context, roomCode string, items []models.QueueItem) ([]models.QueueItem, error) {
	out := make([]models.QueueItem, len(items))
	for i, it := range items {
		it.RoomCode = roomCode
		err := r.pool.QueryRow(ctx, `
			INSERT INTO queue_items (room_code, track_id, "index", shuffle_index, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			it.RoomCode, it.TrackID, it.Index, it.ShuffleIndex, it.UpdatedAt,
		).Scan(&it.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert queue item: %w", err)
		}
		out[i] = it
	}
	return out, nil
}

func (r *Repository) UpdateItems(ctx context.Context, roomCode string, items []models.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			UPDATE queue_items SET
				"index" = $3, shuffle_index = $4, is_deleted = $5, updated_at = $6
			WHERE id = $1 AND room_code = $2`,
			it.ID, roomCode, it.Index, it.ShuffleIndex, it.IsDeleted, it.UpdatedAt,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update queue item: %w", err)
		}
	}
	return nil
}
