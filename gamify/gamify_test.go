package gamify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "habitquest/adapters/memory"
	"habitquest/core"
	"habitquest/engine"
	"habitquest/leaderboard"
	"habitquest/realtime"
)

func seed(t *testing.T, store *mem.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateQuest(context.Background(), core.Quest{
		ID: id, ActorID: "alice", Text: "Water the plants", Difficulty: core.DifficultyMedium,
		XPValue: 25, Status: core.StatusActive, CreatedAt: time.Now(),
	}))
}

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	store := mem.New()
	var seen []core.EventType
	svc := New(
		WithRealtime(hub),
		WithStorage(store),
		WithLeaderboard(board),
		WithDispatchMode(engine.DispatchSync),
		WithConsumer(func(_ context.Context, e core.Event) { seen = append(seen, e.Type) }),
	)
	defer svc.Close()

	_, ch := hub.Subscribe(4)
	seed(t, store, "q1")
	c, err := svc.CompleteQuest(context.Background(), "alice", "q1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), c.Reward.TotalXP)

	// realtime bridge should receive the event
	ev := <-ch
	assert.Equal(t, core.EventQuestCompleted, ev.Type)
	assert.Equal(t, core.ActorID("alice"), ev.ActorID)

	e, ok := board.Get("alice")
	require.True(t, ok)
	assert.Equal(t, int64(25), e.Score)
	assert.Contains(t, seen, core.EventQuestCompleted)
}

func TestInMemoryDefault(t *testing.T) {
	svc := New(WithDispatchMode(engine.DispatchSync))
	defer svc.Close()

	q, err := svc.CreateQuest(context.Background(), "bob", "Sweep the floor", core.DifficultyEasy)
	require.NoError(t, err)
	_, err = svc.CompleteQuest(context.Background(), "bob", q.ID)
	require.NoError(t, err)

	p, err := svc.GetProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.XP)
	assert.Equal(t, int64(50), p.Gold)
}
