// Package transform turns plain to-do text and journal entries into narrative
// prose through a text-generation service.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"habitquest/core"
)

// Prompt is one text-generation request.
type Prompt struct {
	System string
	User   string
}

// Transformer generates narrative text for a prompt.
type Transformer interface {
	Transform(ctx context.Context, p Prompt) (string, error)
}

// Static returns a fixed reply, or echoes the user prompt when Reply is empty.
// Err, when set, is returned instead.
type Static struct {
	Reply string
	Err   error
}

func (s Static) Transform(_ context.Context, p Prompt) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	return p.User, nil
}

const questSystem = `You are the narrator of a fantasy role-playing game that turns real-life tasks into quests.
Rewrite the task as a short quest (one or two sentences, second person).
Respond with JSON only: {"quest": "...", "thread": "...", "impact": "..."}.
"thread" names the story arc the quest belongs to (reuse the current arc when it fits).
"impact" is one sentence describing how completing the quest moves that story forward.`

// QuestPrompt builds the prompt for rewriting a task as a quest.
func QuestPrompt(text string, d core.Difficulty, archetype string, s core.StoryState) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nDifficulty: %s\n", text, d)
	if archetype != "" {
		fmt.Fprintf(&b, "Hero archetype: %s\n", archetype)
	}
	if s.CurrentThread != "" {
		fmt.Fprintf(&b, "Current story arc: %s (%d%% complete)\n", s.CurrentThread, s.ThreadCompletion)
	}
	if len(s.NPCs) > 0 {
		fmt.Fprintf(&b, "Known characters: %s\n", strings.Join(s.NPCs, ", "))
	}
	return Prompt{System: questSystem, User: b.String()}
}

// JournalPrompt builds the prompt for retelling a journal entry as a chronicle.
func JournalPrompt(entry, archetype string) Prompt {
	sys := "You are a bard retelling a hero's day as a short chronicle entry of at most 120 words. Keep every fact from the entry."
	user := "Journal entry:\n" + entry
	if archetype != "" {
		user = fmt.Sprintf("Hero archetype: %s\n%s", archetype, user)
	}
	return Prompt{System: sys, User: user}
}

// WeeklySummaryPrompt builds the prompt for summarizing the last week of quests.
func WeeklySummaryPrompt(quests []core.Quest, s core.StoryState) Prompt {
	var b strings.Builder
	b.WriteString("Quests completed this week:\n")
	for _, q := range quests {
		fmt.Fprintf(&b, "- %s (%s)\n", q.Text, q.Difficulty)
	}
	if s.CurrentThread != "" {
		fmt.Fprintf(&b, "Current story arc: %s (%d%% complete)\n", s.CurrentThread, s.ThreadCompletion)
	}
	if len(s.RecentEvents) > 0 {
		fmt.Fprintf(&b, "Recent events: %s\n", strings.Join(s.RecentEvents, "; "))
	}
	return Prompt{
		System: "You are the chronicler of a fantasy campaign. Summarize the hero's week in one paragraph and end with an encouraging line.",
		User:   b.String(),
	}
}

// QuestResult is the structured reply to a QuestPrompt.
type QuestResult struct {
	Quest  string `json:"quest"`
	Thread string `json:"thread"`
	Impact string `json:"impact"`
}

// ParseQuestResult reads the JSON object in raw. When the reply is not usable
// JSON the trimmed raw text becomes the quest, and an empty reply falls back to
// the original task text.
func ParseQuestResult(raw, original string) QuestResult {
	raw = strings.TrimSpace(raw)
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		var r QuestResult
		if err := json.Unmarshal([]byte(raw[i:j+1]), &r); err == nil && strings.TrimSpace(r.Quest) != "" {
			r.Quest = strings.TrimSpace(r.Quest)
			r.Thread = strings.TrimSpace(r.Thread)
			r.Impact = strings.TrimSpace(r.Impact)
			return r
		}
	}
	if raw == "" {
		return QuestResult{Quest: original}
	}
	return QuestResult{Quest: raw}
}
