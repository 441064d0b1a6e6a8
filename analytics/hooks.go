package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"habitquest/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.ActorID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.ActorID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.ActorID]struct{}{}
		d.days[day] = m
	}
	m[e.ActorID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// DayStats is the economy rollup for one UTC day.
type DayStats struct {
	Day              string           `json:"day"`
	ActiveActors     int              `json:"active_actors"`
	QuestsCreated    int64            `json:"quests_created"`
	QuestsCompleted  int64            `json:"quests_completed"`
	XPAwarded        int64            `json:"xp_awarded"`
	GoldAwarded      int64            `json:"gold_awarded"`
	GoldSpent        int64            `json:"gold_spent"`
	LevelsReached    int64            `json:"levels_reached"`
	StoriesCompleted int64            `json:"stories_completed"`
	SkillsUnlocked   int64            `json:"skills_unlocked"`
	RateLimited      map[string]int64 `json:"rate_limited,omitempty"`
}

// Stats is the economy overview served by the stats endpoint.
type Stats struct {
	Today             DayStats         `json:"today"`
	WeeklyActive      int              `json:"weekly_active"`
	MonthlyActive     int              `json:"monthly_active"`
	TotalXPAwarded    int64            `json:"total_xp_awarded"`
	TotalGoldAwarded  int64            `json:"total_gold_awarded"`
	TotalGoldSpent    int64            `json:"total_gold_spent"`
	TotalCompleted    int64            `json:"total_quests_completed"`
	LevelDistribution map[int64]int    `json:"level_distribution"`
	TopItems          []ItemSales      `json:"top_items,omitempty"`
	RecentDays        []DayStats       `json:"recent_days"`
	RateLimited       map[string]int64 `json:"rate_limited,omitempty"`
}

// ItemSales counts purchases of one catalog item.
type ItemSales struct {
	ItemID string `json:"item_id"`
	Count  int64  `json:"count"`
}

type dayCounters struct {
	active map[core.ActorID]struct{}
	stats  DayStats
}

// EconomyMetrics aggregates completions, gold flow and rate limiting.
type EconomyMetrics struct {
	mu sync.RWMutex

	days    map[string]*dayCounters
	weekly  map[string]map[core.ActorID]struct{}
	monthly map[string]map[core.ActorID]struct{}

	// highest level seen per actor
	levels      map[core.ActorID]int64
	itemSales   map[string]int64
	rateLimited map[string]int64

	totalXP        int64
	totalGold      int64
	totalSpent     int64
	totalCompleted int64

	now func() time.Time
}

func NewEconomyMetrics() *EconomyMetrics {
	return &EconomyMetrics{
		days:        map[string]*dayCounters{},
		weekly:      map[string]map[core.ActorID]struct{}{},
		monthly:     map[string]map[core.ActorID]struct{}{},
		levels:      map[core.ActorID]int64{},
		itemSales:   map[string]int64{},
		rateLimited: map[string]int64{},
		now:         time.Now,
	}
}

// WithClock sets the clock used to pick "today" in Snapshot.
func (m *EconomyMetrics) WithClock(now func() time.Time) *EconomyMetrics {
	m.now = now
	return m
}

func (m *EconomyMetrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := m.day(dayKey(e.Time))
	if e.ActorID != "" {
		day.active[e.ActorID] = struct{}{}
		addActor(m.weekly, weekKey(e.Time), e.ActorID)
		addActor(m.monthly, monthKey(e.Time), e.ActorID)
	}

	switch e.Type {
	case core.EventQuestCreated:
		day.stats.QuestsCreated++
	case core.EventQuestCompleted:
		day.stats.QuestsCompleted++
		day.stats.XPAwarded += e.XP
		day.stats.GoldAwarded += e.Gold
		m.totalCompleted++
		m.totalXP += e.XP
		m.totalGold += e.Gold
		if e.Level > m.levels[e.ActorID] {
			m.levels[e.ActorID] = e.Level
		}
	case core.EventLevelUp:
		day.stats.LevelsReached++
		if e.Level > m.levels[e.ActorID] {
			m.levels[e.ActorID] = e.Level
		}
	case core.EventStoryCompleted:
		day.stats.StoriesCompleted++
	case core.EventSkillUnlocked:
		day.stats.SkillsUnlocked++
	case core.EventItemPurchased:
		spent := -e.Gold
		day.stats.GoldSpent += spent
		m.totalSpent += spent
		if id, ok := e.Metadata["item_id"].(string); ok {
			m.itemSales[id]++
		}
	case core.EventRateLimited:
		endpoint, _ := e.Metadata["endpoint"].(string)
		if day.stats.RateLimited == nil {
			day.stats.RateLimited = map[string]int64{}
		}
		day.stats.RateLimited[endpoint]++
		m.rateLimited[endpoint]++
	}
}

func (m *EconomyMetrics) day(key string) *dayCounters {
	d := m.days[key]
	if d == nil {
		d = &dayCounters{active: map[core.ActorID]struct{}{}, stats: DayStats{Day: key}}
		m.days[key] = d
	}
	return d
}

// Day returns the rollup for a "2006-01-02" key.
func (m *EconomyMetrics) Day(day string) DayStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dayStatsLocked(day)
}

func (m *EconomyMetrics) dayStatsLocked(day string) DayStats {
	d, ok := m.days[day]
	if !ok {
		return DayStats{Day: day}
	}
	out := d.stats
	out.ActiveActors = len(d.active)
	if d.stats.RateLimited != nil {
		out.RateLimited = make(map[string]int64, len(d.stats.RateLimited))
		for k, v := range d.stats.RateLimited {
			out.RateLimited[k] = v
		}
	}
	return out
}

// Snapshot returns totals plus the last seven days.
func (m *EconomyMetrics) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now().UTC()
	s := Stats{
		Today:             m.dayStatsLocked(dayKey(now)),
		WeeklyActive:      len(m.weekly[weekKey(now)]),
		MonthlyActive:     len(m.monthly[monthKey(now)]),
		TotalXPAwarded:    m.totalXP,
		TotalGoldAwarded:  m.totalGold,
		TotalGoldSpent:    m.totalSpent,
		TotalCompleted:    m.totalCompleted,
		LevelDistribution: map[int64]int{},
		RateLimited:       map[string]int64{},
	}
	for _, lvl := range m.levels {
		s.LevelDistribution[lvl]++
	}
	for k, v := range m.rateLimited {
		s.RateLimited[k] = v
	}
	for i := 6; i >= 0; i-- {
		s.RecentDays = append(s.RecentDays, m.dayStatsLocked(dayKey(now.AddDate(0, 0, -i))))
	}
	for id, n := range m.itemSales {
		s.TopItems = append(s.TopItems, ItemSales{ItemID: id, Count: n})
	}
	sort.Slice(s.TopItems, func(i, j int) bool {
		if s.TopItems[i].Count == s.TopItems[j].Count {
			return s.TopItems[i].ItemID < s.TopItems[j].ItemID
		}
		return s.TopItems[i].Count > s.TopItems[j].Count
	})
	return s
}

func addActor(m map[string]map[core.ActorID]struct{}, key string, actor core.ActorID) {
	set := m[key]
	if set == nil {
		set = map[core.ActorID]struct{}{}
		m[key] = set
	}
	set[actor] = struct{}{}
}

// Helper functions
func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	tt := t.UTC()
	year, week := tt.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
