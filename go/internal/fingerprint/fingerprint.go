package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/mcdev12/jukebox/go/internal/models"
)

// A fingerprint is the optimistic-concurrency token for a room's queue: a
// digest of the ordered, non-deleted item list by content. Server and client
// compute it with this same function; a client command carrying a stale
// fingerprint is rejected instead of applied.

// Entry is one non-deleted queue item in active order.
type Entry struct {
	ID    int
	Index int
}

// Compute returns the hex SHA-256 digest of the canonical serialization of
// entries. The serialization is "id:index" pairs joined with "|" in the order
// given, so identical ordered state always hashes identically.
func Compute(entries []Entry) string {
	h := sha256.New()
	for i, e := range entries {
		if i > 0 {
			io.WriteString(h, "|")
		}
		fmt.Fprintf(h, "%d:%d", e.ID, e.Index)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ForQueue computes the fingerprint of a room's queue. Deleted items are
// excluded and the rest are ordered by whichever index field is active.
func ForQueue(items []models.QueueItem, shuffled bool) string {
	live := make([]models.QueueItem, 0, len(items))
	for _, it := range items {
		if !it.IsDeleted {
			live = append(live, it)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].ActiveIndex(shuffled) < live[j].ActiveIndex(shuffled)
	})
	entries := make([]Entry, len(live))
	for i, it := range live {
		entries[i] = Entry{ID: it.ID, Index: it.ActiveIndex(shuffled)}
	}
	return Compute(entries)
}
