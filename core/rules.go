package core

import "context"

// Rule determines whether a trigger event should emit derived events.
type Rule interface {
	Evaluate(ctx context.Context, trigger Event) []Event
}

// LevelUpRule emits a level up when a completion moved the actor to a higher level.
type LevelUpRule struct{}

func (LevelUpRule) Evaluate(_ context.Context, trigger Event) []Event {
	if trigger.Type != EventQuestCompleted || trigger.Level <= trigger.PrevLevel {
		return nil
	}
	return []Event{NewLevelUp(trigger.ActorID, trigger.Level)}
}

// StoryCompletedRule emits story_completed when a completion closed a thread.
type StoryCompletedRule struct{}

func (StoryCompletedRule) Evaluate(_ context.Context, trigger Event) []Event {
	if trigger.Type != EventQuestCompleted || !trigger.Completed || trigger.Thread == "" {
		return nil
	}
	return []Event{NewStoryCompleted(trigger.ActorID, trigger.Thread)}
}
