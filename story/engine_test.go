package story

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitquest/core"
)

var now = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

func TestAdvance_CompletesThreadAt100(t *testing.T) {
	s := core.NewStoryState()
	s.CurrentThread = "Forge of Resolve"
	s.ThreadCompletion = 90
	s.Conflicts = []string{"Iron Golem"}
	q := core.Quest{Text: "Finish the report", ThreadTag: "Forge of Resolve", NarrativeImpact: "The forge roars to life."}

	got, d := New(nil).Advance(s, q, now)

	assert.True(t, d.StoryCompleted)
	assert.Equal(t, "Forge of Resolve", d.CompletedThread)
	assert.Equal(t, "", got.CurrentThread)
	assert.Equal(t, 0, got.ThreadCompletion)
	assert.Empty(t, got.Conflicts)
	require.Len(t, got.CompletedThreads, 1)
	assert.Equal(t, core.CompletedThread{Name: "Forge of Resolve", CompletedAt: now, ClosingLine: "The forge roars to life."}, got.CompletedThreads[0])
	assert.Equal(t, []string{
		"STORY COMPLETED: Forge of Resolve",
		"The forge roars to life.",
		"Completed: Finish the report",
	}, got.RecentEvents)

	// input untouched
	assert.Equal(t, 90, s.ThreadCompletion)
	assert.Equal(t, []string{"Iron Golem"}, s.Conflicts)
}

func TestAdvance_AdoptsThread(t *testing.T) {
	q := core.Quest{Text: "Run 5k", ThreadTag: "The Long Road", NarrativeImpact: "You set out at dawn."}
	got, d := New(nil).Advance(core.NewStoryState(), q, now)

	assert.True(t, d.NewStoryStarted)
	assert.Equal(t, "The Long Road", got.CurrentThread)
	assert.Equal(t, ThreadStep, got.ThreadCompletion)
	assert.Equal(t, "NEW STORY: The Long Road", got.RecentEvents[0])

	// a thread at zero completion is replaced
	s := core.NewStoryState()
	s.CurrentThread = "Stale"
	got, d = New(nil).Advance(s, q, now)
	assert.True(t, d.NewStoryStarted)
	assert.Equal(t, "The Long Road", got.CurrentThread)
}

func TestAdvance_SideQuestLeavesThread(t *testing.T) {
	s := core.NewStoryState()
	s.CurrentThread = "Main"
	s.ThreadCompletion = 45
	q := core.Quest{Text: "Water plants", ThreadTag: "Garden", NarrativeImpact: "Leaves unfurl."}

	got, d := New(nil).Advance(s, q, now)
	assert.Equal(t, Delta{}, d)
	assert.Equal(t, "Main", got.CurrentThread)
	assert.Equal(t, 45, got.ThreadCompletion)
	assert.Equal(t, []string{"Completed: Water plants"}, got.RecentEvents)
}

func TestAdvance_NoImpactOnlyLogsCompletion(t *testing.T) {
	s := core.NewStoryState()
	s.CurrentThread = "Main"
	s.ThreadCompletion = 30
	q := core.Quest{Text: strings.Repeat("x", 80), ThreadTag: "Main"}

	got, d := New(nil).Advance(s, q, now)
	assert.False(t, d.ThreadAdvanced)
	assert.Equal(t, 30, got.ThreadCompletion)
	assert.Equal(t, "Completed: "+strings.Repeat("x", 50)+"...", got.RecentEvents[0])
}

func TestAdvance_ArchiveDropsOldest(t *testing.T) {
	s := core.NewStoryState()
	for i := 0; i < core.MaxCompletedThread; i++ {
		s.CompletedThreads = append(s.CompletedThreads, core.CompletedThread{Name: fmt.Sprintf("t%d", i)})
	}
	s.CurrentThread = "last"
	s.ThreadCompletion = 95
	got, _ := New(nil).Advance(s, core.Quest{Text: "q", ThreadTag: "last", NarrativeImpact: "done"}, now)

	require.Len(t, got.CompletedThreads, core.MaxCompletedThread)
	assert.Equal(t, "t1", got.CompletedThreads[0].Name)
	assert.Equal(t, "last", got.CompletedThreads[core.MaxCompletedThread-1].Name)
}

func TestAdvance_ExtractsEntities(t *testing.T) {
	q := core.Quest{Text: "q", ThreadTag: "T", NarrativeImpact: "You met Elder Rowan and fought against the Shadow King."}
	got, _ := New(nil).Advance(core.NewStoryState(), q, now)

	assert.Contains(t, got.NPCs, "Elder Rowan")
	assert.Contains(t, got.Conflicts, "Shadow King")

	again, _ := New(nil).Advance(got, q, now)
	assert.Len(t, again.NPCs, len(got.NPCs), "duplicates are not re-added")
}

type fixedExtractor Entities

func (f fixedExtractor) ExtractNarrativeEntities(string) Entities { return Entities(f) }

func TestAdvance_CapsRefuseInsertion(t *testing.T) {
	s := core.NewStoryState()
	for i := 0; i < core.MaxNPCs; i++ {
		s.NPCs = append(s.NPCs, fmt.Sprintf("N%d", i))
	}
	e := New(fixedExtractor{NPCs: []string{"Newcomer"}, Conflicts: []string{"Foe"}})
	got, _ := e.Advance(s, core.Quest{Text: "q", NarrativeImpact: "x"}, now)

	assert.Len(t, got.NPCs, core.MaxNPCs)
	assert.NotContains(t, got.NPCs, "Newcomer")
	assert.Equal(t, []string{"Foe"}, got.Conflicts)
}

func TestAdvance_BoundsHoldOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	threads := []string{"", "Alpha", "Beta", "Gamma"}
	impacts := []string{"", "You met Ana Bell.", "A battle against Dread Moor.", "You helped Tom and fought Vex Nor."}
	e := New(nil)

	for run := 0; run < 50; run++ {
		s := core.NewStoryState()
		for step := 0; step < 200; step++ {
			q := core.Quest{
				Text:            fmt.Sprintf("quest %d", step),
				ThreadTag:       threads[rng.IntN(len(threads))],
				NarrativeImpact: impacts[rng.IntN(len(impacts))] + fmt.Sprintf(" You met Hero%c.", 'A'+rune(rng.IntN(26))),
			}
			s, _ = e.Advance(s, q, now)

			require.LessOrEqual(t, len(s.RecentEvents), core.MaxRecentEvents)
			require.LessOrEqual(t, len(s.NPCs), core.MaxNPCs)
			require.LessOrEqual(t, len(s.Conflicts), core.MaxConflicts)
			require.LessOrEqual(t, len(s.CompletedThreads), core.MaxCompletedThread)
			require.GreaterOrEqual(t, s.ThreadCompletion, 0)
			require.LessOrEqual(t, s.ThreadCompletion, core.MaxThreadProgress)
		}
	}
}

func TestRegexExtractor(t *testing.T) {
	ents := RegexExtractor{}.ExtractNarrativeEntities("Encountered Mira Vale; prepared to destroy the Hollow Crown.")
	assert.Equal(t, []string{"Mira Vale"}, ents.NPCs)
	assert.Equal(t, []string{"Hollow Crown"}, ents.Conflicts)

	assert.Empty(t, RegexExtractor{}.ExtractNarrativeEntities("nothing here").NPCs)
}
