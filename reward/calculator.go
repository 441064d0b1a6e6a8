// Package reward computes the XP, gold and level outcome of a quest completion.
package reward

import (
	"math"
	"time"

	"habitquest/core"
)

const (
	// ComebackBonusXP is granted when the actor returns after ComebackAfterDays.
	ComebackBonusXP   = 20
	ComebackAfterDays = 7

	// floatSlack absorbs representation error such as 100 * 1.15 = 114.999...
	floatSlack = 1e-9
)

// GoldFor is the flat gold reward per difficulty. It is never boosted.
func GoldFor(d core.Difficulty) int64 {
	switch d {
	case core.DifficultyMedium:
		return 150
	case core.DifficultyHard:
		return 350
	default:
		return 50
	}
}

// EquipmentMultiplier is 1 plus the sum of each equipped item's (multiplier - 1).
func EquipmentMultiplier(e core.Equipment) float64 {
	m := 1.0
	for _, it := range e.Slots() {
		m += it.XPMultiplier - 1.0
	}
	return m
}

// Breakdown reports every intermediate quantity of a reward computation.
type Breakdown struct {
	BaseXP              int64    `json:"base_xp"`
	SkillBonusXP        int64    `json:"skill_bonus_xp"`
	StreakBonusXP       int64    `json:"streak_bonus_xp"`
	SkillXP             int64    `json:"skill_xp"`
	EquipmentMultiplier float64  `json:"equipment_multiplier"`
	EquipmentBonusXP    int64    `json:"equipment_bonus_xp"`
	ComebackBonus       bool     `json:"comeback_bonus"`
	ComebackBonusXP     int64    `json:"comeback_bonus_xp"`
	LuckyProc           bool     `json:"lucky_proc"`
	SpecialDay          bool     `json:"double_friday"`
	AppliedSkills       []string `json:"applied_skills"`
	TotalXP             int64    `json:"xp"`
	Gold                int64    `json:"gold"`
	OldXP               int64    `json:"old_xp"`
	NewXP               int64    `json:"new_xp"`
	OldLevel            int64    `json:"old_level"`
	NewLevel            int64    `json:"new_level"`
	LevelUp             bool     `json:"level_up"`
	SkillPointsEarned   int64    `json:"skill_points_earned"`
}

// Compute combines the quest, the actor's equipment and history, and the
// skill collaborator's result into a Breakdown. It is deterministic.
//
// Order: skill-boosted XP, equipment multiplier (floored), comeback bonus,
// then special-day doubling of the whole total including the comeback bonus.
func Compute(q core.Quest, p core.Profile, skill SkillResult, specialDay bool, now time.Time) Breakdown {
	b := Breakdown{
		BaseXP:              q.XPValue,
		SkillBonusXP:        skill.SkillBonusXP,
		StreakBonusXP:       skill.StreakBonusXP,
		SkillXP:             skill.FinalXP,
		EquipmentMultiplier: EquipmentMultiplier(p.Equipment),
		LuckyProc:           skill.LuckyProc,
		SpecialDay:          specialDay,
		AppliedSkills:       append([]string{}, skill.AppliedSkills...),
		Gold:                GoldFor(q.Difficulty),
	}

	boosted := int64(math.Floor(float64(skill.FinalXP)*b.EquipmentMultiplier + floatSlack))
	b.EquipmentBonusXP = boosted - skill.FinalXP

	if p.LastQuestAt != nil && core.WholeDaysBetween(*p.LastQuestAt, now) >= ComebackAfterDays {
		b.ComebackBonus = true
		b.ComebackBonusXP = ComebackBonusXP
	}

	b.TotalXP = boosted + b.ComebackBonusXP
	if specialDay {
		b.TotalXP *= 2
	}

	b.OldXP = p.XP
	b.NewXP = p.XP + b.TotalXP
	b.OldLevel = core.LevelForXP(b.OldXP)
	b.NewLevel = core.LevelForXP(b.NewXP)
	b.LevelUp = b.NewLevel > b.OldLevel
	b.SkillPointsEarned = core.SkillPointsEarned(b.OldLevel, b.NewLevel)
	return b
}
