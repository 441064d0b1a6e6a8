// Package story advances the per-actor narrative when quests complete.
package story

import (
	"fmt"
	"slices"
	"time"

	"habitquest/core"
)

const (
	// ThreadStep is the completion gained per quest on the current thread.
	ThreadStep = 15

	maxEventTextRunes = 50
)

// Delta summarizes what a single Advance changed.
type Delta struct {
	ThreadAdvanced  bool   `json:"thread_advanced"`
	NewStoryStarted bool   `json:"new_story_started"`
	StoryCompleted  bool   `json:"story_completed"`
	CompletedThread string `json:"completed_thread,omitempty"`
}

// Engine applies quest completions to a StoryState.
type Engine struct {
	extractor Extractor
}

// New returns an Engine; a nil extractor falls back to RegexExtractor.
func New(extractor Extractor) *Engine {
	if extractor == nil {
		extractor = RegexExtractor{}
	}
	return &Engine{extractor: extractor}
}

// Advance returns the state after q completes at now. The input is not modified.
func (e *Engine) Advance(s core.StoryState, q core.Quest, now time.Time) (core.StoryState, Delta) {
	st := s.Clone()
	var d Delta

	st.RecentEvents = pushEvent(st.RecentEvents, "Completed: "+truncateRunes(q.Text, maxEventTextRunes))

	if q.ThreadTag != "" && q.NarrativeImpact != "" {
		switch {
		case st.CurrentThread == q.ThreadTag:
			d.ThreadAdvanced = true
			st.ThreadCompletion = min(st.ThreadCompletion+ThreadStep, core.MaxThreadProgress)
			st.RecentEvents = pushEvent(st.RecentEvents, q.NarrativeImpact)
			if st.ThreadCompletion >= core.MaxThreadProgress {
				d.StoryCompleted = true
				d.CompletedThread = st.CurrentThread
				st.CompletedThreads = append(st.CompletedThreads, core.CompletedThread{
					Name:        st.CurrentThread,
					CompletedAt: now.UTC(),
					ClosingLine: q.NarrativeImpact,
				})
				if n := len(st.CompletedThreads); n > core.MaxCompletedThread {
					st.CompletedThreads = st.CompletedThreads[n-core.MaxCompletedThread:]
				}
				st.RecentEvents = pushEvent(st.RecentEvents, fmt.Sprintf("STORY COMPLETED: %s", st.CurrentThread))
				st.CurrentThread = ""
				st.ThreadCompletion = 0
				st.Conflicts = []string{}
			}
		case st.CurrentThread == "" || st.ThreadCompletion == 0:
			d.NewStoryStarted = true
			st.CurrentThread = q.ThreadTag
			st.ThreadCompletion = ThreadStep
			st.RecentEvents = pushEvent(st.RecentEvents, fmt.Sprintf("NEW STORY: %s", q.ThreadTag))
		default:
			// side quest on another thread; thread state unchanged
		}
	}

	if q.NarrativeImpact != "" {
		ents := e.extractor.ExtractNarrativeEntities(q.NarrativeImpact)
		st.NPCs = addCapped(st.NPCs, ents.NPCs, core.MaxNPCs)
		st.Conflicts = addCapped(st.Conflicts, ents.Conflicts, core.MaxConflicts)
	}
	return st, d
}

func pushEvent(events []string, line string) []string {
	out := make([]string, 0, core.MaxRecentEvents)
	out = append(out, line)
	for _, ev := range events {
		if len(out) == core.MaxRecentEvents {
			break
		}
		out = append(out, ev)
	}
	return out
}

func addCapped(list, names []string, limit int) []string {
	for _, n := range names {
		if len(list) >= limit {
			break
		}
		if !slices.Contains(list, n) {
			list = append(list, n)
		}
	}
	return list
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
