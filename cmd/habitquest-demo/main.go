package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	mem "habitquest/adapters/memory"
	"habitquest/analytics"
	"habitquest/core"
	"habitquest/engine"
	"habitquest/gamify"
	"habitquest/leaderboard"
	"habitquest/skills"
	"habitquest/transform"
)

// demo plays a few simulated days for one actor on the in-memory store.
func main() {
	// Use readable text logging for development/demo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	board := leaderboard.NewSkipList()
	stats := analytics.NewEconomyMetrics().WithClock(clock)
	svc := gamify.New(
		gamify.WithStorage(mem.New(mem.WithClock(clock))),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithLeaderboard(board),
		gamify.WithConsumer(analytics.NewBridge(stats).Handle),
		gamify.WithConsumer(func(_ context.Context, e core.Event) {
			switch e.Type {
			case core.EventLevelUp:
				logger.Info("level up", "actor_id", e.ActorID, "level", e.Level)
			case core.EventStoryCompleted:
				logger.Info("story completed", "actor_id", e.ActorID, "thread", e.Thread)
			}
		}),
		gamify.WithLogger(logger),
		gamify.WithServiceOptions(
			engine.WithClock(clock),
			engine.WithTransformer(transform.Static{}),
		),
	)
	defer svc.Close()

	const actor core.ActorID = "demo-hero"

	text, err := svc.TransformJournal(ctx, actor, "Today I finally cleaned out the garage.")
	if err != nil {
		return err
	}
	logger.Info("journal transformed", "story", text)

	for day := 0; day < 12; day++ {
		q, err := svc.CreateQuest(ctx, actor, "Morning run", core.DifficultyHard)
		if err != nil {
			return err
		}
		c, err := svc.CompleteQuest(ctx, actor, q.ID)
		if err != nil {
			return err
		}
		logger.Info("quest completed",
			"day", now.Format(time.DateOnly),
			"xp", c.Reward.TotalXP,
			"streak_bonus_xp", c.Reward.StreakBonusXP,
			"gold", c.Reward.Gold,
			"level", c.Profile.Level,
			"streak", c.Profile.CurrentStreak,
			"thread", c.Story.State.CurrentThread)
		now = now.Add(24 * time.Hour)
	}

	p, err := svc.PurchaseItem(ctx, actor, "wooden-sword")
	if err != nil {
		return err
	}
	logger.Info("purchased", "item", p.Item.Name, "balance", p.Balance)

	profile, err := svc.GetProfile(ctx, actor)
	if err != nil {
		return err
	}
	if profile.SkillPoints > 0 {
		profile, err = svc.UnlockSkill(ctx, actor, skills.StreakKeeper)
		if err != nil {
			return err
		}
		logger.Info("skill unlocked", "skills", profile.UnlockedSkills, "skill_points", profile.SkillPoints)
	}

	summary, err := svc.WeeklySummary(ctx, actor)
	if err != nil {
		return err
	}
	logger.Info("weekly summary", "quests", summary.QuestsCompleted, "summary", summary.Summary)

	top := board.TopN(1)
	if len(top) > 0 {
		logger.Info("leaderboard leader", "actor_id", top[0].Actor, "xp", top[0].Score)
	}
	snap := stats.Snapshot()
	logger.Info("economy",
		"xp_awarded", snap.TotalXPAwarded,
		"gold_awarded", snap.TotalGoldAwarded,
		"gold_spent", snap.TotalGoldSpent,
		"quests_completed", snap.TotalCompleted)
	return nil
}
