package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// ActorID uniquely identifies an authenticated user.
type ActorID string

// Difficulty grades a quest and selects its gold reward.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty validates a difficulty string.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	}
	return "", errors.New("difficulty must be one of: easy, medium, hard")
}

// DefaultXPValue is the XP stored on a newly created quest.
func DefaultXPValue(d Difficulty) int64 {
	switch d {
	case DifficultyMedium:
		return 25
	case DifficultyHard:
		return 50
	default:
		return 10
	}
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeActorID trims surrounding whitespace. Case is significant, so
// "Alice" and "alice" are different actors.
func NormalizeActorID(id ActorID) (ActorID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty actor id")
	}
	return ActorID(s), nil
}

// LevelForXP derives the level from total XP: floor(xp/100) + 1.
func LevelForXP(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	return totalXP/100 + 1
}

// SkillPointsEarned returns the points granted for moving between levels.
// One point is granted for every multiple of five crossed.
func SkillPointsEarned(oldLevel, newLevel int64) int64 {
	earned := newLevel/5 - oldLevel/5
	if earned < 0 {
		return 0
	}
	return earned
}

// WholeDaysBetween returns the number of complete 24h periods from earlier to later.
func WholeDaysBetween(earlier, later time.Time) int64 {
	d := later.Sub(earlier)
	if d < 0 {
		return 0
	}
	return int64(d / (24 * time.Hour))
}
