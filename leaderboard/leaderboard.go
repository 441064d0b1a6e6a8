package leaderboard

import (
	"context"
	"time"

	"habitquest/core"
)

// Entry is one actor's standing on the XP board.
type Entry struct {
	Actor     core.ActorID `json:"actor_id"`
	Score     int64        `json:"score"`
	Level     int64        `json:"level"`
	ReachedAt time.Time    `json:"reached_at"`
}

// Board ranks actors by score. Ties go to whoever reached the score first.
type Board interface {
	Record(e Entry)
	Remove(actor core.ActorID)
	TopN(n int) []Entry
	Get(actor core.ActorID) (Entry, bool)
	// Rank is 1-based; 0 means the actor is not on the board.
	Rank(actor core.ActorID) int
}

// XPFeed returns an event handler that keeps board ranked by total XP.
// Only quest completions carry a total, so other events are ignored.
func XPFeed(board Board) func(context.Context, core.Event) {
	return func(_ context.Context, ev core.Event) {
		if ev.Type != core.EventQuestCompleted || ev.ActorID == "" {
			return
		}
		// async delivery can reorder completions; never move an actor down
		if cur, ok := board.Get(ev.ActorID); ok && cur.Score >= ev.TotalXP {
			return
		}
		board.Record(Entry{Actor: ev.ActorID, Score: ev.TotalXP, Level: ev.Level, ReachedAt: ev.Time})
	}
}
