package core

import "time"

// Bounds on the narrative state lists.
const (
	MaxRecentEvents    = 10
	MaxNPCs            = 20
	MaxConflicts       = 10
	MaxCompletedThread = 5
	MaxThreadProgress  = 100
)

// CompletedThread archives a finished story arc.
type CompletedThread struct {
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
	ClosingLine string    `json:"closing_line"`
}

// StoryState is the narrative progress embedded in a profile.
type StoryState struct {
	CurrentThread    string            `json:"current_thread,omitempty"`
	ThreadCompletion int               `json:"thread_completion"`
	RecentEvents     []string          `json:"recent_events"`
	NPCs             []string          `json:"npcs"`
	Conflicts        []string          `json:"conflicts"`
	CompletedThreads []CompletedThread `json:"completed_threads"`
}

// NewStoryState returns an empty story with non-nil lists.
func NewStoryState() StoryState {
	return StoryState{
		RecentEvents:     []string{},
		NPCs:             []string{},
		Conflicts:        []string{},
		CompletedThreads: []CompletedThread{},
	}
}

// Clone returns a deep copy of the state.
func (s StoryState) Clone() StoryState {
	cp := s
	cp.RecentEvents = append([]string{}, s.RecentEvents...)
	cp.NPCs = append([]string{}, s.NPCs...)
	cp.Conflicts = append([]string{}, s.Conflicts...)
	cp.CompletedThreads = append([]CompletedThread{}, s.CompletedThreads...)
	return cp
}
