// Package skills implements the skill-tree effects applied to quest XP.
package skills

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"habitquest/core"
	"habitquest/reward"
)

// Skill identifiers.
const (
	QuickHands     = "quick_hands"
	FocusedMind    = "focused_mind"
	GiantSlayer    = "giant_slayer"
	StreakKeeper   = "streak_keeper"
	FortuneFavored = "fortune_favored"
	DoubleFriday   = "double_friday"
)

// Skill describes one node of the tree.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
}

// Catalog lists every unlockable skill.
var Catalog = []Skill{
	{ID: QuickHands, Name: "Quick Hands", Description: "+5 XP on easy quests", Cost: 1},
	{ID: FocusedMind, Name: "Focused Mind", Description: "+10% XP on medium quests", Cost: 1},
	{ID: GiantSlayer, Name: "Giant Slayer", Description: "+25% XP on hard quests", Cost: 2},
	{ID: StreakKeeper, Name: "Streak Keeper", Description: "+2 XP per streak day, up to 10 days", Cost: 1},
	{ID: FortuneFavored, Name: "Fortune Favored", Description: "10% chance to double quest XP", Cost: 2},
	{ID: DoubleFriday, Name: "Double Friday", Description: "Double XP on Fridays", Cost: 3},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Skill, error) {
	for _, s := range Catalog {
		if s.ID == id {
			return s, nil
		}
	}
	return Skill{}, core.E(core.KindInvalidInput, fmt.Sprintf("unknown skill %q", id))
}

const (
	luckyChance      = 0.10
	streakXPPerDay   = 2
	streakDaysCapped = 10
)

// ProfileReader loads the actor's unlocked skills.
type ProfileReader interface {
	GetProfile(ctx context.Context, actor core.ActorID) (core.Profile, error)
}

// Engine computes skill bonuses from the actor's unlocked skills.
type Engine struct {
	profiles ProfileReader
	roll     func() float64
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoll overrides the random source used for the lucky proc; it must return [0,1).
func WithRoll(f func() float64) Option { return func(e *Engine) { e.roll = f } }

// WithClock overrides the clock used for day-of-week effects.
func WithClock(f func() time.Time) Option { return func(e *Engine) { e.now = f } }

func New(profiles ProfileReader, opts ...Option) *Engine {
	e := &Engine{profiles: profiles, roll: rand.Float64, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) ComputeSkillBonus(ctx context.Context, actor core.ActorID, difficulty core.Difficulty, baseXP, currentStreak int64) (reward.SkillResult, error) {
	p, err := e.profiles.GetProfile(ctx, actor)
	if err != nil {
		return reward.SkillResult{}, fmt.Errorf("load skills: %w", err)
	}
	return Apply(p.UnlockedSkills, difficulty, baseXP, currentStreak, e.roll), nil
}

func (e *Engine) IsSpecialDayActive(ctx context.Context, actor core.ActorID) (bool, error) {
	if e.now().UTC().Weekday() != time.Friday {
		return false, nil
	}
	p, err := e.profiles.GetProfile(ctx, actor)
	if err != nil {
		return false, fmt.Errorf("load skills: %w", err)
	}
	return p.HasSkill(DoubleFriday), nil
}

// Apply computes the skill result for a set of unlocked skills.
func Apply(unlocked []string, difficulty core.Difficulty, baseXP, currentStreak int64, roll func() float64) reward.SkillResult {
	has := make(map[string]bool, len(unlocked))
	for _, s := range unlocked {
		has[s] = true
	}
	res := reward.Unboosted(baseXP)

	switch {
	case difficulty == core.DifficultyEasy && has[QuickHands]:
		res.SkillBonusXP += 5
		res.AppliedSkills = append(res.AppliedSkills, QuickHands)
	case difficulty == core.DifficultyMedium && has[FocusedMind]:
		res.SkillBonusXP += int64(math.Floor(float64(baseXP) * 0.10))
		res.AppliedSkills = append(res.AppliedSkills, FocusedMind)
	case difficulty == core.DifficultyHard && has[GiantSlayer]:
		res.SkillBonusXP += int64(math.Floor(float64(baseXP) * 0.25))
		res.AppliedSkills = append(res.AppliedSkills, GiantSlayer)
	}

	if has[StreakKeeper] && currentStreak > 0 {
		days := min(currentStreak, streakDaysCapped)
		res.StreakBonusXP = days * streakXPPerDay
		res.AppliedSkills = append(res.AppliedSkills, StreakKeeper)
	}

	res.FinalXP = baseXP + res.SkillBonusXP + res.StreakBonusXP

	if has[FortuneFavored] && roll() < luckyChance {
		res.LuckyProc = true
		res.SkillBonusXP += res.FinalXP
		res.FinalXP *= 2
		res.AppliedSkills = append(res.AppliedSkills, FortuneFavored)
	}
	return res
}
