package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"habitquest/core"
)

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// Rewards mirrors the rewards block of a completion.
type Rewards struct {
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

// ProfileSummary is the post-completion progression snapshot.
type ProfileSummary struct {
	XP            int64 `json:"xp"`
	Level         int64 `json:"level"`
	Gold          int64 `json:"gold"`
	CurrentStreak int64 `json:"current_streak"`
	LongestStreak int64 `json:"longest_streak"`
	SkillPoints   int64 `json:"skill_points"`
}

type StoryProgress struct {
	CurrentThread    string `json:"current_thread"`
	ThreadCompletion int    `json:"thread_completion"`
	StoryCompleted   bool   `json:"story_completed"`
	NewStoryStarted  bool   `json:"new_story_started"`
}

type SkillEffects struct {
	Applied      []string `json:"applied"`
	LuckyProc    bool     `json:"lucky_proc"`
	DoubleFriday bool     `json:"double_friday"`
}

// Completion is the response of POST /quests/complete.
type Completion struct {
	Success      bool           `json:"success"`
	Rewards      Rewards        `json:"rewards"`
	Profile      ProfileSummary `json:"profile"`
	Story        StoryProgress  `json:"story"`
	SkillEffects SkillEffects   `json:"skill_effects"`
}

// Purchase is the response of POST /shop/purchase.
type Purchase struct {
	Item    core.Item    `json:"item"`
	Balance int64        `json:"balance"`
	Profile core.Profile `json:"profile"`
}

type WeeklySummary struct {
	Summary         string    `json:"summary"`
	QuestsCompleted int       `json:"quests_completed"`
	Since           time.Time `json:"since"`
}

type LeaderboardEntry struct {
	ActorID   string    `json:"actor_id"`
	Score     int64     `json:"score"`
	Level     int64     `json:"level"`
	ReachedAt time.Time `json:"reached_at"`
}

// Leaderboard holds the top entries and, when ranked, the caller's position.
type Leaderboard struct {
	Entries []LeaderboardEntry `json:"entries"`
	Rank    int                `json:"rank,omitempty"`
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`

	// Set on 429 responses.
	Limit      int64         `json:"limit,omitempty"`
	Current    int64         `json:"current,omitempty"`
	ResetAt    time.Time     `json:"reset_at,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("habitquest: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusTooManyRequests
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = fmt.Sprintf("request failed: status %d", resp.StatusCode)
		}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyID is returned when a required id argument is empty.
var ErrEmptyID = errors.New("id is required")
