package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Repository persists outbox rows. Inserts happen on the pool; fetch and
// mark-sent run inside a worker transaction so concurrent workers skip each
// other's locked rows.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, roomCode, eventType string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO room_outbox (id, room_code, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), roomCode, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// txQueries binds outbox statements to one transaction.
type txQueries struct {
	tx *sql.Tx
}

func newTxQueries(tx *sql.Tx) *txQueries {
	return &txQueries{tx: tx}
}

func (q *txQueries) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, room_code, event_type, payload, created_at
		FROM room_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var (
			evt     OutboxEvent
			payload pqtype.NullRawMessage
		)
		if err := rows.Scan(&evt.ID, &evt.RoomCode, &evt.EventType, &payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if payload.Valid {
			evt.Payload = payload.RawMessage
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox events: %w", err)
	}
	return events, nil
}

func (q *txQueries) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	_, err := q.tx.ExecContext(ctx, `
		UPDATE room_outbox SET sent_at = now()
		WHERE id = ANY($1)`, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox events as sent: %w", err)
	}
	return nil
}
