package core

import "time"

// QuestStatus is the lifecycle state of a quest. The only transition is
// StatusActive -> StatusCompleted.
type QuestStatus string

const (
	StatusActive    QuestStatus = "active"
	StatusCompleted QuestStatus = "completed"
)

// Quest is a single to-do item rewritten as a narrative task.
type Quest struct {
	ID              string      `json:"id"`
	ActorID         ActorID     `json:"actor_id"`
	OriginalText    string      `json:"original_text"`
	Text            string      `json:"text"`
	Difficulty      Difficulty  `json:"difficulty"`
	XPValue         int64       `json:"xp_value"`
	Status          QuestStatus `json:"status"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	ThreadTag       string      `json:"story_thread,omitempty"`
	NarrativeImpact string      `json:"narrative_impact,omitempty"`
}

// Completed reports whether the quest has reached its terminal state.
func (q Quest) Completed() bool { return q.Status == StatusCompleted }

// QuestFilter narrows quest listings.
type QuestFilter struct {
	Status         QuestStatus
	CompletedSince time.Time
	Limit          int
}

// Match reports whether q passes the filter, ignoring Limit.
func (f QuestFilter) Match(q Quest) bool {
	if f.Status != "" && q.Status != f.Status {
		return false
	}
	if !f.CompletedSince.IsZero() {
		if q.CompletedAt == nil || q.CompletedAt.Before(f.CompletedSince) {
			return false
		}
	}
	return true
}
