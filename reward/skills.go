package reward

import (
	"context"

	"habitquest/core"
)

// SkillResult is the skill-boosted XP for one completion.
// FinalXP = base + SkillBonusXP + StreakBonusXP.
type SkillResult struct {
	FinalXP       int64    `json:"final_xp"`
	SkillBonusXP  int64    `json:"skill_bonus_xp"`
	StreakBonusXP int64    `json:"streak_bonus_xp"`
	LuckyProc     bool     `json:"lucky_proc"`
	AppliedSkills []string `json:"applied_skills"`
}

// Unboosted is the result when no skill applies.
func Unboosted(baseXP int64) SkillResult {
	return SkillResult{FinalXP: baseXP, AppliedSkills: []string{}}
}

// SkillEffects computes skill bonuses for an actor. Implementations may
// depend on actor configuration and may be randomized.
type SkillEffects interface {
	ComputeSkillBonus(ctx context.Context, actor core.ActorID, difficulty core.Difficulty, baseXP, currentStreak int64) (SkillResult, error)
	IsSpecialDayActive(ctx context.Context, actor core.ActorID) (bool, error)
}

// NoSkills applies no bonus and never reports a special day.
type NoSkills struct{}

func (NoSkills) ComputeSkillBonus(_ context.Context, _ core.ActorID, _ core.Difficulty, baseXP, _ int64) (SkillResult, error) {
	return Unboosted(baseXP), nil
}

func (NoSkills) IsSpecialDayActive(context.Context, core.ActorID) (bool, error) { return false, nil }
