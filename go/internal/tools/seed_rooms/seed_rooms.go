package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/jukebox/go/internal/dbconfig"
)

// Room mirrors the JSON snapshot structure
type Room struct {
	RoomCode string   `json:"room_code"`
	TrackIDs []string `json:"track_ids"`
}

func main() {
	// 1) Load the JSON snapshot
	data, err := os.ReadFile("go/internal/assets/rooms.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var rooms []Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert rooms and their queues
	var (
		total    = len(rooms)
		inserted int
		skipped  int
		errs     int
	)

	for _, r := range rooms {
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO rooms (room_code, is_paused, is_looping, is_shuffled)
            VALUES ($1, true, false, false)
            ON CONFLICT (room_code) DO NOTHING
        `, r.RoomCode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting room %s: %v\n", r.RoomCode, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() != 1 {
			skipped++
			continue
		}
		inserted++

		var firstID *int
		for idx, trackID := range r.TrackIDs {
			var id int
			err := pool.QueryRow(context.Background(), `
                INSERT INTO queue_items (room_code, track_id, "index", updated_at)
                VALUES ($1, $2, $3, now())
                RETURNING id
            `, r.RoomCode, trackID, idx).Scan(&id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error inserting track %s for room %s: %v\n", trackID, r.RoomCode, err)
				errs++
				continue
			}
			if firstID == nil {
				firstID = &id
			}
		}

		// First queued track starts as the current one
		if firstID != nil {
			_, err := pool.Exec(context.Background(), `
                UPDATE rooms SET
                    current_item_id = $2, current_item_index = 0,
                    current_item_track_id = $3, updated_at = now()
                WHERE room_code = $1
            `, r.RoomCode, *firstID, r.TrackIDs[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error setting current track for room %s: %v\n", r.RoomCode, err)
				errs++
			}
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Rooms seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
