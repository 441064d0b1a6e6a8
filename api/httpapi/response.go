package httpapi

import "habitquest/engine"

type completionRewards struct {
	XP                int64 `json:"xp"`
	BaseXP            int64 `json:"base_xp"`
	EquipmentBonusXP  int64 `json:"equipment_bonus_xp"`
	SkillBonusXP      int64 `json:"skill_bonus_xp"`
	StreakBonusXP     int64 `json:"streak_bonus_xp"`
	ComebackBonus     bool  `json:"comeback_bonus"`
	ComebackBonusXP   int64 `json:"comeback_bonus_xp"`
	LuckyProc         bool  `json:"lucky_proc"`
	DoubleFriday      bool  `json:"double_friday"`
	Gold              int64 `json:"gold"`
	NewLevel          int64 `json:"new_level"`
	LevelUp           bool  `json:"level_up"`
	SkillPointsEarned int64 `json:"skill_points_earned"`
}

type completionProfile struct {
	XP            int64 `json:"xp"`
	Level         int64 `json:"level"`
	Gold          int64 `json:"gold"`
	CurrentStreak int64 `json:"current_streak"`
	LongestStreak int64 `json:"longest_streak"`
	SkillPoints   int64 `json:"skill_points"`
}

type completionStory struct {
	CurrentThread    string `json:"current_thread"`
	ThreadCompletion int    `json:"thread_completion"`
	StoryCompleted   bool   `json:"story_completed"`
	NewStoryStarted  bool   `json:"new_story_started"`
}

type completionSkillEffects struct {
	Applied      []string `json:"applied"`
	LuckyProc    bool     `json:"lucky_proc"`
	DoubleFriday bool     `json:"double_friday"`
}

type completionResponse struct {
	Success      bool                   `json:"success"`
	Rewards      completionRewards      `json:"rewards"`
	Profile      completionProfile      `json:"profile"`
	Story        completionStory        `json:"story"`
	SkillEffects completionSkillEffects `json:"skill_effects"`
}

func newCompletionResponse(c engine.Completion) completionResponse {
	b := c.Reward
	applied := b.AppliedSkills
	if applied == nil {
		applied = []string{}
	}
	return completionResponse{
		Success: true,
		Rewards: completionRewards{
			XP:                b.TotalXP,
			BaseXP:            b.BaseXP,
			EquipmentBonusXP:  b.EquipmentBonusXP,
			SkillBonusXP:      b.SkillBonusXP,
			StreakBonusXP:     b.StreakBonusXP,
			ComebackBonus:     b.ComebackBonus,
			ComebackBonusXP:   b.ComebackBonusXP,
			LuckyProc:         b.LuckyProc,
			DoubleFriday:      b.SpecialDay,
			Gold:              b.Gold,
			NewLevel:          b.NewLevel,
			LevelUp:           b.LevelUp,
			SkillPointsEarned: b.SkillPointsEarned,
		},
		Profile: completionProfile{
			XP:            c.Profile.XP,
			Level:         c.Profile.Level,
			Gold:          c.Profile.Gold,
			CurrentStreak: c.Profile.CurrentStreak,
			LongestStreak: c.Profile.LongestStreak,
			SkillPoints:   c.Profile.SkillPoints,
		},
		Story: completionStory{
			CurrentThread:    c.Story.State.CurrentThread,
			ThreadCompletion: c.Story.State.ThreadCompletion,
			StoryCompleted:   c.Story.Delta.StoryCompleted,
			NewStoryStarted:  c.Story.Delta.NewStoryStarted,
		},
		SkillEffects: completionSkillEffects{
			Applied:      applied,
			LuckyProc:    b.LuckyProc,
			DoubleFriday: b.SpecialDay,
		},
	}
}
