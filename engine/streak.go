package engine

import (
	"time"

	"habitquest/core"
)

// nextStreak returns the streak after a completion at now. A completion on the
// same or the following day extends the streak; a longer gap restarts it.
func nextStreak(p core.Profile, now time.Time) (current, longest int64) {
	current = 1
	if p.LastQuestAt != nil && core.WholeDaysBetween(*p.LastQuestAt, now) <= 1 {
		current = p.CurrentStreak + 1
	}
	return current, max(p.LongestStreak, current)
}
