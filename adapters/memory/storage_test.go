package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitquest/core"
)

var t0 = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

func activeQuest(actor core.ActorID, id string) core.Quest {
	return core.Quest{ID: id, ActorID: actor, Text: "q", Difficulty: core.DifficultyEasy, XPValue: 10, Status: core.StatusActive, CreatedAt: t0}
}

func TestCompleteQuest_CompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateQuest(ctx, activeQuest("a", "q1")))

	require.NoError(t, s.CompleteQuest(ctx, "a", "q1", t0))
	assert.ErrorIs(t, s.CompleteQuest(ctx, "a", "q1", t0), core.ErrAlreadyCompleted)
	assert.ErrorIs(t, s.CompleteQuest(ctx, "b", "q1", t0), core.ErrQuestNotFound)

	q, err := s.GetQuest(ctx, "a", "q1")
	require.NoError(t, err)
	assert.True(t, q.Completed())
	require.NotNil(t, q.CompletedAt)
	assert.Equal(t, t0, *q.CompletedAt)

	_, err = s.GetQuest(ctx, "b", "q1")
	assert.ErrorIs(t, err, core.ErrQuestNotFound)
}

func TestCompleteQuest_ConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateQuest(ctx, activeQuest("a", "q1")))

	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CompleteQuest(ctx, "a", "q1", t0); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, core.ErrAlreadyCompleted)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestAdjustCurrency_BalanceFloor(t *testing.T) {
	s := New(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	res, err := s.AdjustCurrency(ctx, core.Adjustment{ActorID: "a", Amount: 100, Type: core.TxReward, ReferenceID: "q1"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.NewBalance)
	assert.NotEmpty(t, res.TransactionID)

	_, err = s.AdjustCurrency(ctx, core.Adjustment{ActorID: "a", Amount: -150, Type: core.TxPurchase})
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	_, err = s.AdjustCurrency(ctx, core.Adjustment{ActorID: "a", Amount: 0, Type: core.TxAdjustment})
	assert.ErrorIs(t, err, core.ErrZeroAdjustment)

	txs, err := s.Transactions(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1, "rejected adjustments write nothing")

	p, err := s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Gold)
}

func TestAdjustCurrency_RandomSequencesNeverNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(3, 5))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		amounts := make([]int64, 200)
		for i := range amounts {
			amounts[i] = rng.Int64N(201) - 120
			if amounts[i] == 0 {
				amounts[i] = 1
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, a := range amounts {
				_, _ = s.AdjustCurrency(ctx, core.Adjustment{ActorID: "a", Amount: a, Type: core.TxAdjustment})
			}
		}()
	}
	wg.Wait()

	txs, err := s.Transactions(ctx, "a", 0)
	require.NoError(t, err)
	var sum int64
	for i := len(txs) - 1; i >= 0; i-- {
		sum += txs[i].Amount
		require.GreaterOrEqual(t, txs[i].BalanceAfter, int64(0))
		require.Equal(t, sum, txs[i].BalanceAfter)
	}
	p, _ := s.GetProfile(ctx, "a")
	assert.Equal(t, sum, p.Gold)
}

func TestAdmitQuota_MonotonicAndWindowReset(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := core.QuotaRequest{ActorID: "a", Key: "quest_transform", Limit: 3, Window: time.Hour, At: t0.Add(5 * time.Minute)}

	for i := int64(1); i <= 3; i++ {
		res, err := s.AdmitQuota(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Current)
		assert.Equal(t, t0.Add(time.Hour), res.ResetAt)
	}
	for i := 0; i < 2; i++ {
		res, err := s.AdmitQuota(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(3), res.Current)
	}

	req.At = t0.Add(time.Hour)
	res, err := s.AdmitQuota(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Current)

	other := req
	other.Key = "journal_transform"
	res, err = s.AdmitQuota(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Current)
}

func TestAdmitQuota_ConcurrentNeverExceedsLimit(t *testing.T) {
	s := New()
	req := core.QuotaRequest{ActorID: "a", Key: "k", Limit: 10, Window: time.Minute, At: t0}
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.AdmitQuota(context.Background(), req)
			assert.NoError(t, err)
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

func TestSaveProgressRejectsStaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, err := s.GetProfile(ctx, "a")
	require.NoError(t, err)

	first := core.ProgressUpdate{Version: p.Version, XP: 10, Level: 1, LastQuestAt: t0, Story: core.NewStoryState()}
	second := core.ProgressUpdate{Version: p.Version, XP: 25, Level: 1, LastQuestAt: t0, Story: core.NewStoryState()}
	require.NoError(t, s.SaveProgress(ctx, "a", first))
	assert.ErrorIs(t, s.SaveProgress(ctx, "a", second), core.ErrProgressConflict)

	p, err = s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.XP)
	assert.Equal(t, int64(1), p.Version)
}

func TestUnlockSkillAdvancesVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveProgress(ctx, "a", core.ProgressUpdate{XP: 1000, Level: 11, SkillPoints: 1, LastQuestAt: t0, Story: core.NewStoryState()}))
	p, err := s.GetProfile(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.UnlockSkill(ctx, "a", "quick_hands", 1))
	// a progress write computed before the unlock would restore the spent point
	stale := core.ProgressUpdate{Version: p.Version, XP: 1010, Level: 11, SkillPoints: p.SkillPoints, LastQuestAt: t0, Story: core.NewStoryState()}
	assert.ErrorIs(t, s.SaveProgress(ctx, "a", stale), core.ErrProgressConflict)
}

func TestUnlockSkillAndEquip(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveProgress(ctx, "a", core.ProgressUpdate{XP: 1000, Level: 11, SkillPoints: 2, TotalSkillPointsEarned: 2, LastQuestAt: t0, Story: core.NewStoryState()}))

	require.NoError(t, s.UnlockSkill(ctx, "a", "quick_hands", 1))
	assert.ErrorIs(t, s.UnlockSkill(ctx, "a", "quick_hands", 1), core.ErrSkillUnavailable)
	assert.ErrorIs(t, s.UnlockSkill(ctx, "a", "giant_slayer", 2), core.ErrSkillUnavailable)

	item, err := s.GetItem(ctx, "iron-sword")
	require.NoError(t, err)
	require.NoError(t, s.EquipItem(ctx, "a", item))

	p, err := s.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.SkillPoints)
	assert.Equal(t, []string{"quick_hands"}, p.UnlockedSkills)
	require.NotNil(t, p.Equipment.Weapon)
	assert.Equal(t, "iron-sword", p.Equipment.Weapon.ID)

	_, err = s.GetItem(ctx, "excalibur")
	assert.ErrorIs(t, err, core.ErrItemNotFound)
}

func TestListQuestsFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, id := range []string{"q1", "q2", "q3"} {
		q := activeQuest("a", id)
		q.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateQuest(ctx, q))
	}
	require.NoError(t, s.CompleteQuest(ctx, "a", "q2", t0.Add(time.Hour)))

	all, err := s.ListQuests(ctx, "a", core.QuestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "q3", all[0].ID)

	done, err := s.ListQuests(ctx, "a", core.QuestFilter{Status: core.StatusCompleted, CompletedSince: t0})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "q2", done[0].ID)

	limited, err := s.ListQuests(ctx, "a", core.QuestFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSnapshotRestore(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateQuest(ctx, activeQuest("a", "q1")))
	_, err := s.AdjustCurrency(ctx, core.Adjustment{ActorID: "a", Amount: 40, Type: core.TxReward})
	require.NoError(t, err)
	s.SetPremium("a", true)

	restored := New()
	restored.Restore(s.Snapshot())

	p, err := restored.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(40), p.Gold)
	assert.True(t, p.Premium)
	_, err = restored.GetQuest(ctx, "a", "q1")
	assert.NoError(t, err)
}
