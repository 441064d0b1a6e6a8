package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventQuestCreated   EventType = "quest_created"
	EventQuestCompleted EventType = "quest_completed"
	EventLevelUp        EventType = "level_up"
	EventStoryCompleted EventType = "story_completed"
	EventItemPurchased  EventType = "item_purchased"
	EventSkillUnlocked  EventType = "skill_unlocked"
	EventRateLimited    EventType = "rate_limited"
)

// Event represents an immutable domain event.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	ActorID   ActorID        `json:"actor_id"`
	QuestID   string         `json:"quest_id,omitempty"`
	XP        int64          `json:"xp,omitempty"`
	TotalXP   int64          `json:"total_xp,omitempty"`
	Gold      int64          `json:"gold,omitempty"`
	Level     int64          `json:"level,omitempty"`
	PrevLevel int64          `json:"prev_level,omitempty"`
	Thread    string         `json:"thread,omitempty"`
	Completed bool           `json:"story_completed,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewQuestCreated(actor ActorID, q Quest) Event {
	return Event{Type: EventQuestCreated, Time: time.Now().UTC(), ActorID: actor, QuestID: q.ID, Thread: q.ThreadTag}
}

// NewQuestCompleted captures the outcome of one completion transaction.
func NewQuestCompleted(actor ActorID, questID string, xp, totalXP, gold, prevLevel, level int64, thread string, storyCompleted bool) Event {
	return Event{
		Type:      EventQuestCompleted,
		Time:      time.Now().UTC(),
		ActorID:   actor,
		QuestID:   questID,
		XP:        xp,
		TotalXP:   totalXP,
		Gold:      gold,
		PrevLevel: prevLevel,
		Level:     level,
		Thread:    thread,
		Completed: storyCompleted,
	}
}

func NewLevelUp(actor ActorID, level int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), ActorID: actor, Level: level}
}

func NewStoryCompleted(actor ActorID, thread string) Event {
	return Event{Type: EventStoryCompleted, Time: time.Now().UTC(), ActorID: actor, Thread: thread, Completed: true}
}

func NewItemPurchased(actor ActorID, item Item) Event {
	return Event{Type: EventItemPurchased, Time: time.Now().UTC(), ActorID: actor, Gold: -item.Price,
		Metadata: map[string]any{"item_id": item.ID, "slot": string(item.Slot)}}
}

func NewSkillUnlocked(actor ActorID, skillID string) Event {
	return Event{Type: EventSkillUnlocked, Time: time.Now().UTC(), ActorID: actor, Metadata: map[string]any{"skill_id": skillID}}
}

func NewRateLimited(actor ActorID, endpoint, reason string) Event {
	return Event{Type: EventRateLimited, Time: time.Now().UTC(), ActorID: actor,
		Metadata: map[string]any{"endpoint": endpoint, "reason": reason}}
}

// AllEventTypes lists every event type, e.g. for bridging a bus to a sink.
func AllEventTypes() []EventType {
	return []EventType{
		EventQuestCreated, EventQuestCompleted, EventLevelUp, EventStoryCompleted,
		EventItemPurchased, EventSkillUnlocked, EventRateLimited,
	}
}
